package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/orasrs/orasrs-core/internal/httpclient"
	"github.com/orasrs/orasrs-core/internal/types"
)

const (
	threatListPath = "/api/threats/list"
	nodeListPath   = "/api/nodes"
	maxBodyBytes   = 32 << 20
)

// HTTP fetches threats and nodes from the ledger gateway's REST API.
type HTTP struct {
	client     *http.Client
	maxElapsed time.Duration
	log        *zap.SugaredLogger
}

// NewHTTP builds an HTTP source. maxElapsed bounds the retries of a single
// fetch; zero uses 10s.
func NewHTTP(client *http.Client, maxElapsed time.Duration, log *zap.SugaredLogger) *HTTP {
	if client == nil {
		client = httpclient.Default()
	}
	if maxElapsed <= 0 {
		maxElapsed = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HTTP{client: client, maxElapsed: maxElapsed, log: log}
}

type threatListResponse struct {
	ThreatList []types.ThreatRecord `json:"threat_list"`
	LastUpdate string               `json:"last_update"`
}

type nodeEntry struct {
	IP     string `json:"ip"`
	Port   uint16 `json:"port"`
	Wallet string `json:"wallet"`
}

type nodeListResponse struct {
	Nodes []nodeEntry `json:"nodes"`
}

func (h *HTTP) FetchLatestThreats(ctx context.Context, id types.EndpointIdentity) ([]types.ThreatRecord, error) {
	var resp threatListResponse
	if err := h.getJSON(ctx, id, threatListPath, &resp); err != nil {
		return nil, err
	}
	return cleanThreats(resp.ThreatList), nil
}

func (h *HTTP) FetchNodeList(ctx context.Context, id types.EndpointIdentity) ([]types.NodeRecord, error) {
	var resp nodeListResponse
	if err := h.getJSON(ctx, id, nodeListPath, &resp); err != nil {
		return nil, err
	}
	out := make([]types.NodeRecord, 0, len(resp.Nodes))
	for _, n := range resp.Nodes {
		if n.IP == "" || n.Port == 0 {
			continue
		}
		out = append(out, types.NodeRecord{Address: n.IP, Port: n.Port, WalletID: n.Wallet})
	}
	return out, nil
}

func (h *HTTP) getJSON(ctx context.Context, id types.EndpointIdentity, path string, v any) error {
	u, err := endpointURL(id, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCollaborator, err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", httpclient.UserAgent)
		resp, err := h.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			se := &httpclient.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
			if se.Retryable() {
				return se
			}
			return backoff.Permanent(se)
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = h.maxElapsed
	notify := func(err error, wait time.Duration) {
		h.log.Debugw("upstream fetch retry", "path", path, "status", httpclient.GetStatusCode(err), "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		return fmt.Errorf("%w: GET %s: %w", ErrCollaborator, path, err)
	}
	return nil
}

func endpointURL(id types.EndpointIdentity, path string) (string, error) {
	base, err := url.Parse(strings.TrimRight(id.RPCEndpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("parse rpc endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return "", fmt.Errorf("rpc endpoint %q: unsupported scheme", id.RPCEndpoint)
	}
	base.Path += path
	if id.ContractAddress != "" {
		q := base.Query()
		q.Set("contract", id.ContractAddress)
		base.RawQuery = q.Encode()
	}
	return base.String(), nil
}
