package btc

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	ErrTxNotFound     = errors.New("transaction not found")
	ErrOutputNotFound = errors.New("transaction has no such output")
	ErrScriptMismatch = errors.New("output script doesn't match the " +
		"descriptor")
	ErrPublishFailed = errors.New("explorer rejected the transaction")
)

// ExplorerAPI is a client for the Esplora REST API.
type ExplorerAPI struct {
	BaseURL string
	Client  *http.Client
}

// NewExplorerAPI returns a client for the Esplora instance at baseURL.
func NewExplorerAPI(baseURL string) *ExplorerAPI {
	return &ExplorerAPI{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type TX struct {
	TxID   string  `json:"txid"`
	Vin    []*Vin  `json:"vin"`
	Vout   []*Vout `json:"vout"`
	Status *Status `json:"status"`
}

type Vin struct {
	Txid     string `json:"txid"`
	Vout     int    `json:"vout"`
	Prevout  *Vout  `json:"prevout"`
	Sequence uint32 `json:"sequence"`
}

type Vout struct {
	ScriptPubkey     string `json:"scriptpubkey"`
	ScriptPubkeyAsm  string `json:"scriptpubkey_asm"`
	ScriptPubkeyType string `json:"scriptpubkey_type"`
	ScriptPubkeyAddr string `json:"scriptpubkey_address"`
	Value            int64  `json:"value"`
}

type Status struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int    `json:"block_height"`
	BlockHash   string `json:"block_hash"`
}

// Transaction looks up a transaction by its id.
func (a *ExplorerAPI) Transaction(ctx context.Context,
	txid chainhash.Hash) (*TX, error) {

	tx := &TX{}
	err := a.fetchJSON(ctx, fmt.Sprintf("%s/tx/%v", a.BaseURL, txid), tx)
	if err != nil {
		return nil, err
	}

	return tx, nil
}

// FundingOutput looks up the output op and checks that it pays to pkScript.
// It returns the value of the output.
func (a *ExplorerAPI) FundingOutput(ctx context.Context, op wire.OutPoint,
	pkScript []byte) (*Vout, error) {

	tx, err := a.Transaction(ctx, op.Hash)
	if err != nil {
		return nil, err
	}
	if int(op.Index) >= len(tx.Vout) {
		return nil, fmt.Errorf("%w: %v has %d outputs",
			ErrOutputNotFound, op, len(tx.Vout))
	}

	vout := tx.Vout[op.Index]
	if vout.ScriptPubkey != hex.EncodeToString(pkScript) {
		return nil, fmt.Errorf("%w: %v pays to %s", ErrScriptMismatch,
			op, vout.ScriptPubkey)
	}
	log.Debugf("Found funding output %v with %d sat (confirmed=%v)", op,
		vout.Value, tx.Status != nil && tx.Status.Confirmed)

	return vout, nil
}

// PublishTx broadcasts a raw transaction and returns its txid.
func (a *ExplorerAPI) PublishTx(ctx context.Context,
	rawTxHex string) (chainhash.Hash, error) {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, a.BaseURL+"/tx",
		strings.NewReader(rawTxHex),
	)
	if err != nil {
		return chainhash.Hash{}, err
	}
	req.Header.Set("Content-Type", "text/plain")

	body, status, err := a.do(req)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if status != http.StatusOK {
		return chainhash.Hash{}, fmt.Errorf("%w: %d %s",
			ErrPublishFailed, status, strings.TrimSpace(body))
	}

	txid, err := chainhash.NewHashFromStr(strings.TrimSpace(body))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid txid in "+
			"response %q: %w", body, err)
	}
	log.Infof("Published transaction %v", txid)

	return *txid, nil
}

func (a *ExplorerAPI) do(req *http.Request) (string, int, error) {
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	body := new(bytes.Buffer)
	if _, err := io.Copy(body, resp.Body); err != nil {
		return "", 0, err
	}

	return body.String(), resp.StatusCode, nil
}

func (a *ExplorerAPI) fetchJSON(ctx context.Context, url string,
	target interface{}) error {

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	body, status, err := a.do(req)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound ||
		body == "Transaction not found" {

		return ErrTxNotFound
	}
	if status != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s: %s", status,
			url, strings.TrimSpace(body))
	}

	return json.Unmarshal([]byte(body), target)
}
