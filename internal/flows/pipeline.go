// Package flows wires the builder, uploader, store, index and clock into the
// sequencer's write and read operations.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/clock"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/gateway"
	"github.com/eldtechnologies/sequencer/internal/index"
	"github.com/eldtechnologies/sequencer/internal/ledger"
	"github.com/eldtechnologies/sequencer/internal/metrics"
	"github.com/eldtechnologies/sequencer/internal/models"
	"github.com/eldtechnologies/sequencer/internal/store"
	"github.com/eldtechnologies/sequencer/internal/uploader"
)

// indexTimeout bounds the local save that follows a successful upload. The
// save runs detached from the caller's context once the ledger holds the bundle.
const indexTimeout = 10 * time.Second

// ErrForeignBundle is returned by Recover for bundles signed by another key.
var ErrForeignBundle = errors.New("bundle was not signed by this sequencer")

// Fetcher reads a stored bundle back from the ledger by its ledger id.
type Fetcher interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// Deps are the shared handles of every invocation. They are built once at
// startup and never mutated afterwards.
type Deps struct {
	Store    store.DataStore
	Logger   zerolog.Logger
	Builder  *bundle.Builder
	Uploader uploader.Uploader
	Oracle   *clock.Oracle
	Fetcher  Fetcher // optional; enables RecoverFromLedger
}

// Pipeline runs sequencer operations. It is safe for concurrent use; each
// call is an independent invocation.
type Pipeline struct {
	deps Deps

	// inflight serializes writes and recoveries of one item id.
	inflight singleflight.Group
}

// New validates deps and returns a Pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("flows: nil store")
	case deps.Builder == nil:
		return nil, errors.New("flows: nil builder")
	case deps.Uploader == nil:
		return nil, errors.New("flows: nil uploader")
	case deps.Oracle == nil:
		return nil, errors.New("flows: nil oracle")
	}
	return &Pipeline{deps: deps}, nil
}

// invocation carries the per-call logger.
type invocation struct {
	op  string
	log zerolog.Logger
}

func (p *Pipeline) begin(op string) *invocation {
	return &invocation{
		op: op,
		log: p.deps.Logger.With().
			Str("invocation", crypto.NewInvocationID()).
			Str("op", op).
			Logger(),
	}
}

func (inv *invocation) fail(kind Kind, receipt *models.Receipt, err error) *Error {
	metrics.PipelineErrors.WithLabelValues(inv.op, string(kind)).Inc()

	level := zerolog.ErrorLevel
	switch kind {
	case KindInput, KindNotFound, KindRange, KindConflict:
		level = zerolog.DebugLevel
	}
	ev := inv.log.WithLevel(level)
	if receipt != nil {
		ev = ev.Str("receipt", receipt.ID)
	}
	ev.Err(err).Str("kind", string(kind)).Msg("invocation failed")

	return &Error{Kind: kind, Op: inv.op, Receipt: receipt, Err: err}
}

// WriteMessage builds, uploads and indexes a Message. The result is the upload receipt as JSON.
func (p *Pipeline) WriteMessage(ctx context.Context, raw []byte) (json.RawMessage, error) {
	return p.write(ctx, p.begin("write_message"), raw, bundle.TypeMessage)
}

// WriteProcess builds, uploads and indexes a Process. The result is the upload receipt as JSON.
func (p *Pipeline) WriteProcess(ctx context.Context, raw []byte) (json.RawMessage, error) {
	return p.write(ctx, p.begin("write_process"), raw, bundle.TypeProcess)
}

// Write accepts either entity and dispatches on the data item's Type tag.
func (p *Pipeline) Write(ctx context.Context, raw []byte) (json.RawMessage, error) {
	return p.write(ctx, p.begin("write"), raw, "")
}

func (p *Pipeline) write(ctx context.Context, inv *invocation, raw []byte, want string) (json.RawMessage, error) {
	res, err := p.deps.Builder.Build(ctx, raw)
	if err != nil {
		if bundle.IsInputError(err) {
			return nil, inv.fail(KindInput, nil, err)
		}
		return nil, inv.fail(KindDependency, nil, err)
	}

	item := &res.Bundle.Item
	if want != "" && item.Type() != want {
		return nil, inv.fail(KindInput, nil,
			fmt.Errorf("%w: want %s, got %q", bundle.ErrWrongType, want, item.Type()))
	}

	var (
		out  json.RawMessage
		werr error
	)
	if err := p.exclusive(ctx, item.ID, func() {
		out, werr = p.commit(ctx, inv, res)
	}); err != nil {
		return nil, inv.fail(KindDependency, nil, err)
	}
	return out, werr
}

// exclusive runs fn while no other exclusive call for id is running. A caller
// that only joined another caller's flight waits for it and tries again.
func (p *Pipeline) exclusive(ctx context.Context, id string, fn func()) error {
	for {
		ran := false
		p.inflight.Do(id, func() (interface{}, error) {
			ran = true
			fn()
			return nil, nil
		})
		if ran {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// commit uploads a built bundle and indexes its entity. Callers hold the
// item id exclusively.
func (p *Pipeline) commit(ctx context.Context, inv *invocation, res *bundle.BuildResult) (json.RawMessage, error) {
	item := &res.Bundle.Item

	// The ledger write cannot be retracted, so a known id is refused before uploading.
	if err := p.checkAbsent(ctx, item); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, inv.fail(KindConflict, nil, err)
		}
		return nil, inv.fail(KindDependency, nil, err)
	}

	receipt, err := p.deps.Uploader.Upload(ctx, res.Binary)
	if err != nil {
		return nil, inv.fail(KindDependency, nil, err)
	}
	inv.log.Debug().Str("receipt", receipt.ID).Str("bundle", res.Bundle.ID).Msg("bundle uploaded")

	// From here on the entity is on the ledger; a caller that goes away must
	// not leave it unindexed.
	ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), indexTimeout)
	defer cancel()
	if err := p.index(ictx, inv, res.Bundle); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, inv.fail(KindConflict, receipt, err)
		}
		return nil, inv.fail(KindPartialFailure, receipt, err)
	}

	out, err := json.Marshal(receipt)
	if err != nil {
		return nil, inv.fail(KindSerialization, receipt, err)
	}
	return out, nil
}

func (p *Pipeline) checkAbsent(ctx context.Context, item *bundle.DataItem) error {
	var err error
	switch item.Type() {
	case bundle.TypeMessage:
		_, err = p.deps.Store.GetMessage(ctx, item.ID)
	case bundle.TypeProcess:
		_, err = p.deps.Store.GetProcess(ctx, item.ID)
	default:
		return fmt.Errorf("%w: %q", bundle.ErrWrongType, item.Type())
	}

	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", store.ErrDuplicate, item.ID)
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return err
	}
}

// index extracts the entity carried by b and saves it, logging one line on success.
func (p *Pipeline) index(ctx context.Context, inv *invocation, b *bundle.Bundle) error {
	switch b.Item.Type() {
	case bundle.TypeMessage:
		msg, err := bundle.MessageFromBundle(b)
		if err != nil {
			return err
		}
		if err := p.deps.Store.SaveMessage(ctx, msg); err != nil {
			return err
		}
		metrics.EntitiesWritten.WithLabelValues("message").Inc()
		inv.log.Info().
			Str("id", msg.ID).
			Str("process_id", msg.ProcessID).
			Str("sequence_key", msg.SequenceKey).
			Str("bundle", msg.BundleReference).
			Msg("saved message")
		return nil

	case bundle.TypeProcess:
		proc, err := bundle.ProcessFromBundle(b)
		if err != nil {
			return err
		}
		if err := p.deps.Store.SaveProcess(ctx, proc); err != nil {
			return err
		}
		metrics.EntitiesWritten.WithLabelValues("process").Inc()
		inv.log.Info().
			Str("id", proc.ID).
			Str("owner", proc.Owner).
			Str("bundle", proc.CreationBundleReference).
			Msg("saved process")
		return nil
	}
	return fmt.Errorf("%w: %q", bundle.ErrWrongType, b.Item.Type())
}

// RecoverResult reports what Recover did with a bundle.
type RecoverResult struct {
	ID     string `json:"id"`
	Bundle string `json:"bundle"`
	Kind   string `json:"kind"`   // "message" or "process"
	Status string `json:"status"` // "indexed" or "already_indexed"
}

// Recover re-indexes a bundle binary previously uploaded to the ledger. It
// closes the gap left by a partial failure. An entity that is already indexed
// is reported as such rather than as an error.
func (p *Pipeline) Recover(ctx context.Context, binary []byte) (json.RawMessage, error) {
	return p.recover(ctx, p.begin("recover"), binary)
}

// RecoverFromLedger fetches the bundle stored under ledgerID and re-indexes it.
func (p *Pipeline) RecoverFromLedger(ctx context.Context, ledgerID string) (json.RawMessage, error) {
	inv := p.begin("recover")
	if p.deps.Fetcher == nil {
		return nil, inv.fail(KindDependency, nil, errors.New("no ledger fetcher configured"))
	}

	binary, err := p.deps.Fetcher.Get(ctx, ledgerID)
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, gateway.ErrNotFound):
		return nil, inv.fail(KindNotFound, nil, err)
	case errors.Is(err, ledger.ErrInvalidID):
		return nil, inv.fail(KindInput, nil, err)
	case err != nil:
		return nil, inv.fail(KindDependency, nil, err)
	}
	return p.recover(ctx, inv, binary)
}

func (p *Pipeline) recover(ctx context.Context, inv *invocation, binary []byte) (json.RawMessage, error) {
	b, err := bundle.DecodeBundle(binary)
	if err != nil {
		return nil, inv.fail(KindInput, nil, err)
	}
	if err := b.Verify(); err != nil {
		return nil, inv.fail(KindInput, nil, err)
	}
	owner, err := p.deps.Builder.Owner()
	if err != nil {
		return nil, inv.fail(KindDependency, nil, err)
	}
	if b.Owner != owner {
		return nil, inv.fail(KindInput, nil, fmt.Errorf("%w: owner %s", ErrForeignBundle, b.Owner))
	}

	result := RecoverResult{ID: b.Item.ID, Bundle: b.ID, Status: "indexed"}
	switch b.Item.Type() {
	case bundle.TypeMessage:
		result.Kind = "message"
	case bundle.TypeProcess:
		result.Kind = "process"
	}

	if xerr := p.exclusive(ctx, b.Item.ID, func() { err = p.index(ctx, inv, b) }); xerr != nil {
		return nil, inv.fail(KindDependency, nil, xerr)
	}
	switch {
	case errors.Is(err, store.ErrDuplicate):
		result.Status = "already_indexed"
	case err != nil && bundle.IsInputError(err):
		return nil, inv.fail(KindInput, nil, err)
	case err != nil:
		return nil, inv.fail(KindDependency, nil, err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, inv.fail(KindSerialization, nil, err)
	}
	return out, nil
}

// ReadMessages returns the messages of processID, ordered and sliced to [from, to], as a JSON array.
func (p *Pipeline) ReadMessages(ctx context.Context, processID string, from, to *string) (json.RawMessage, error) {
	inv := p.begin("read_messages")

	msgs, err := p.deps.Store.GetMessages(ctx, processID)
	if err != nil {
		return nil, inv.fail(KindDependency, nil, err)
	}

	sorted, err := index.FromMessages(msgs, from, to)
	if err != nil {
		if errors.Is(err, index.ErrRange) {
			return nil, inv.fail(KindRange, nil, err)
		}
		return nil, inv.fail(KindDependency, nil, err)
	}

	out, err := json.Marshal(sorted)
	if err != nil {
		return nil, inv.fail(KindSerialization, nil, err)
	}
	return out, nil
}

// ReadMessage returns one message as JSON.
func (p *Pipeline) ReadMessage(ctx context.Context, id string) (json.RawMessage, error) {
	inv := p.begin("read_message")

	msg, err := p.deps.Store.GetMessage(ctx, id)
	if err != nil {
		return nil, inv.fail(lookupKind(err), nil, err)
	}

	out, err := json.Marshal(msg)
	if err != nil {
		return nil, inv.fail(KindSerialization, nil, err)
	}
	return out, nil
}

// ReadProcess returns one process as JSON.
func (p *Pipeline) ReadProcess(ctx context.Context, id string) (json.RawMessage, error) {
	inv := p.begin("read_process")

	proc, err := p.deps.Store.GetProcess(ctx, id)
	if err != nil {
		return nil, inv.fail(lookupKind(err), nil, err)
	}

	out, err := json.Marshal(proc)
	if err != nil {
		return nil, inv.fail(KindSerialization, nil, err)
	}
	return out, nil
}

// Timestamp returns {"timestamp": "<ms>", "block_height": "<12 digits>"}.
func (p *Pipeline) Timestamp(ctx context.Context) (json.RawMessage, error) {
	inv := p.begin("timestamp")

	stamp, err := p.deps.Oracle.Now(ctx)
	if err != nil {
		return nil, inv.fail(KindDependency, nil, err)
	}

	out, err := json.Marshal(stamp)
	if err != nil {
		return nil, inv.fail(KindSerialization, nil, err)
	}
	return out, nil
}

func lookupKind(err error) Kind {
	if errors.Is(err, store.ErrNotFound) {
		return KindNotFound
	}
	return KindDependency
}
