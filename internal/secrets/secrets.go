// Package secrets publishes namespaced secrets to the platform's secret store.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hopsworks/expat/internal/dryrun"
	"github.com/hopsworks/expat/internal/fault"
	"github.com/hopsworks/expat/internal/transport"
	"go.uber.org/zap"
)

// Secret is one namespaced secret record.
type Secret struct {
	Namespace string
	Name      string
	Labels    map[string]string
	Data      map[string][]byte
}

// Keys returns the data keys, sorted.
func (s Secret) Keys() []string {
	keys := make([]string, 0, len(s.Data))
	for k := range s.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Client creates or replaces secrets.
type Client interface {
	Apply(ctx context.Context, s Secret) error
}

// Kube stores secrets through the Kubernetes API.
type Kube struct {
	master string
	token  string
	http   *retryablehttp.Client
}

// NewKube returns a client for the API server at master authenticating with
// the bearer token read from tokenFile (optional).
func NewKube(master, tokenFile string, hc *retryablehttp.Client) (*Kube, error) {
	if master == "" {
		return nil, fault.Configuration.New("kubernetes master url cannot be empty")
	}
	if _, err := url.Parse(master); err != nil {
		return nil, fault.Configuration.New("invalid kubernetes master url %q: %v", master, err)
	}
	k := &Kube{master: strings.TrimSuffix(master, "/"), http: hc}
	if tokenFile != "" {
		b, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fault.Configuration.New("failed to read kubernetes token: %v", err)
		}
		k.token = strings.TrimSpace(string(b))
	}
	return k, nil
}

type objectMeta struct {
	Name      string            `json:"name"`
	Namespace string            `json:"namespace"`
	Labels    map[string]string `json:"labels,omitempty"`
}

type secretObject struct {
	APIVersion string            `json:"apiVersion"`
	Kind       string            `json:"kind"`
	Metadata   objectMeta        `json:"metadata"`
	Type       string            `json:"type"`
	Data       map[string][]byte `json:"data"`
}

type status struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
	Code    int    `json:"code"`
}

// Apply implements Client: create, and replace on conflict.
func (k *Kube) Apply(ctx context.Context, s Secret) error {
	body, err := json.Marshal(secretObject{
		APIVersion: "v1",
		Kind:       "Secret",
		Metadata:   objectMeta{Name: s.Name, Namespace: s.Namespace, Labels: s.Labels},
		Type:       "Opaque",
		Data:       s.Data,
	})
	if err != nil {
		return err
	}

	collection := fmt.Sprintf("%s/api/v1/namespaces/%s/secrets", k.master, url.PathEscape(s.Namespace))
	code, err := k.send(ctx, http.MethodPost, collection, body)
	if err != nil {
		return fmt.Errorf("failed to create secret %s/%s: %w", s.Namespace, s.Name, err)
	}
	if code == http.StatusConflict {
		if _, err := k.send(ctx, http.MethodPut, collection+"/"+url.PathEscape(s.Name), body); err != nil {
			return fmt.Errorf("failed to replace secret %s/%s: %w", s.Namespace, s.Name, err)
		}
	}
	return nil
}

// send returns the status code for 2xx and 409 responses and an error for
// everything else.
func (k *Kube) send(ctx context.Context, method, target string, body []byte) (int, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if k.token != "" {
		req.Header.Set("Authorization", "Bearer "+k.token)
	}
	resp, err := k.http.Do(req)
	if err != nil {
		return 0, transport.Classify(err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 300 || resp.StatusCode == http.StatusConflict {
		return resp.StatusCode, nil
	}
	var st status
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &st) == nil && st.Message != "" {
		msg = st.Message
	}
	err = fmt.Errorf("%s: %s", resp.Status, msg)
	if resp.StatusCode >= 500 {
		return resp.StatusCode, fault.Connectivity.Wrap(err)
	}
	return resp.StatusCode, err
}

// Gated routes Apply through gate.
func Gated(c Client, gate *dryrun.Gate) Client {
	return &gated{c: c, gate: gate}
}

type gated struct {
	c    Client
	gate *dryrun.Gate
}

func (g *gated) Apply(ctx context.Context, s Secret) error {
	return g.gate.Apply(ctx,
		dryrun.Mutation{System: dryrun.Secrets, Op: "apply", Target: s.Namespace + "/" + s.Name},
		func(ctx context.Context) error { return g.c.Apply(ctx, s) },
		zap.Strings("keys", s.Keys()))
}
