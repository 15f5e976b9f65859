// Package su provides a client for the sequencer HTTP API.
package su

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/eldtechnologies/sequencer/internal/bundle"
	"github.com/eldtechnologies/sequencer/internal/crypto"
	"github.com/eldtechnologies/sequencer/internal/models"
)

// Client is a sequencer API client. Items are signed locally with the
// wallet before they are sent.
type Client struct {
	BaseURL    string
	WalletPath string
	HTTPClient *http.Client

	signer crypto.Signer
}

// NewClient creates a new client. The wallet is read from SU_WALLET, or
// ~/.su/wallet.json when unset; a missing wallet only matters for writes.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	walletPath := os.Getenv("SU_WALLET")
	if walletPath == "" {
		home, _ := os.UserHomeDir()
		walletPath = filepath.Join(home, ".su", "wallet.json")
	}

	c := &Client{
		BaseURL:    baseURL,
		WalletPath: walletPath,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadWallet()
	return c
}

// LoadWallet reads the signing key from WalletPath.
func (c *Client) LoadWallet() error {
	w, err := crypto.LoadFileWallet(c.WalletPath)
	if err != nil {
		return err
	}
	c.signer = crypto.NewEd25519Signer(w)
	return nil
}

// GenerateWallet writes a new wallet to WalletPath and starts using it.
func (c *Client) GenerateWallet() (string, error) {
	if _, err := os.Stat(c.WalletPath); err == nil {
		return "", fmt.Errorf("%s already exists", c.WalletPath)
	}
	wf, err := crypto.GenerateWalletFile(c.WalletPath)
	if err != nil {
		return "", err
	}
	return wf.PublicKey, c.LoadWallet()
}

// APIError is a non-2xx answer from the sequencer. Receipt is set when the
// item reached the ledger but was not indexed.
type APIError struct {
	Status  int
	Kind    string
	Message string
	Receipt *models.Receipt
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("sequencer error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("sequencer error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON answer into out.
func (c *Client) doRequest(method, path, contentType string, body []byte, out interface{}) error {
	req, err := http.NewRequest(method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var errResp struct {
			Error   string          `json:"error"`
			Kind    string          `json:"kind"`
			Receipt *models.Receipt `json:"receipt"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Kind: errResp.Kind, Message: errResp.Error, Receipt: errResp.Receipt}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Sign builds and signs a data item of the given type.
func (c *Client) Sign(typ, target string, data []byte, tags ...models.Tag) (*bundle.DataItem, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("no wallet loaded from %s", c.WalletPath)
	}
	item := &bundle.DataItem{
		Target: target,
		Tags:   append([]models.Tag{{Name: bundle.TypeTag, Value: typ}}, tags...),
		Data:   data,
	}
	if err := item.Sign(c.signer); err != nil {
		return nil, err
	}
	return item, nil
}

func (c *Client) post(path string, item *bundle.DataItem) (*models.Receipt, error) {
	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}
	var r models.Receipt
	if err := c.doRequest(http.MethodPost, path, "application/json", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Spawn signs and submits a new process. The returned id names the process
// in later calls.
func (c *Client) Spawn(data []byte, tags ...models.Tag) (string, *models.Receipt, error) {
	item, err := c.Sign(bundle.TypeProcess, "", data, tags...)
	if err != nil {
		return "", nil, err
	}
	r, err := c.post("/process", item)
	if err != nil {
		return "", nil, err
	}
	return item.ID, r, nil
}

// Send signs and submits a message to processID.
func (c *Client) Send(processID string, data []byte, tags ...models.Tag) (string, *models.Receipt, error) {
	item, err := c.Sign(bundle.TypeMessage, processID, data, tags...)
	if err != nil {
		return "", nil, err
	}
	r, err := c.post("/message", item)
	if err != nil {
		return "", nil, err
	}
	return item.ID, r, nil
}

// Submit posts an already signed item to the type-dispatching endpoint.
func (c *Client) Submit(item *bundle.DataItem) (*models.Receipt, error) {
	return c.post("/", item)
}

// Messages lists the messages of processID in sequence order. Empty bounds
// are left open.
func (c *Client) Messages(processID, from, to string) ([]models.Message, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	path := "/messages/" + url.PathEscape(processID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var msgs []models.Message
	if err := c.doRequest(http.MethodGet, path, "", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Message gets one message.
func (c *Client) Message(id string) (*models.Message, error) {
	var m models.Message
	if err := c.doRequest(http.MethodGet, "/message/"+url.PathEscape(id), "", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Process gets one process.
func (c *Client) Process(id string) (*models.Process, error) {
	var p models.Process
	if err := c.doRequest(http.MethodGet, "/processes/"+url.PathEscape(id), "", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Stamp is the sequencer's current time and ledger height.
type Stamp struct {
	Timestamp   string `json:"timestamp"`
	BlockHeight string `json:"block_height"`
}

// Timestamp gets the sequencer's current stamp.
func (c *Client) Timestamp() (*Stamp, error) {
	var s Stamp
	if err := c.doRequest(http.MethodGet, "/timestamp", "", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RecoverResult reports what a recovery indexed.
type RecoverResult struct {
	ID     string `json:"id"`
	Bundle string `json:"bundle"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// Recover asks the sequencer to index the bundle stored under ledgerID,
// typically the receipt id of a partial failure.
func (c *Client) Recover(ledgerID string) (*RecoverResult, error) {
	var res RecoverResult
	if err := c.doRequest(http.MethodPost, "/recover/"+url.PathEscape(ledgerID), "", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health.
func (c *Client) Health() (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(http.MethodGet, "/health", "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
