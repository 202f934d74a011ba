// Package registry is the REST client to the Nacos-compatible registry /
// configuration-center: authenticated login with transparent token refresh,
// instance register/deregister/heartbeat/weight-update, and config
// fetch/publish (spec.md §4.A, §6).
//
// Every exported method that calls the registry reports failure through its
// returned error; none panic across this package's boundary (spec.md §4.A: "failures are never thrown across the
// adapter boundary").
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

const (
	// tokenRefreshSkew is 60s: refresh the cached token before it actually expires (spec.md §4.A).
	tokenRefreshSkew = 60 * time.Second
	// callCeiling is 60s: adapter calls are implemented with a ceiling per spec.md §5.
	callCeiling = 60 * time.Second

	defaultGroup = "DEFAULT_GROUP"
)

// Client is the registry adapter. Safe for concurrent use.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	cached atomic.Pointer[token]
}

// New returns a Client targeting baseURL (e.g. "http://127.0.0.1:8848") with
// the given registry credentials.
func New(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: callCeiling},
	}
}

// BaseURL returns the configured registry base URL, for callers (the config
// long-poll engine) that need to build their own requests.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AccessToken returns a currently-valid access token, logging in or
// refreshing as needed.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if t := c.cached.Load(); t.validUntil(tokenRefreshSkew) {
		return t.accessToken, nil
	}
	return c.login(ctx)
}

// ForceRefresh discards the cached token and logs in again. Callers invoke
// this after observing a 401/403 from any other call.
func (c *Client) ForceRefresh(ctx context.Context) (string, error) {
	c.cached.Store(nil)
	return c.login(ctx)
}

func (c *Client) login(ctx context.Context) (string, error) {
	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := c.newRequest(ctx, http.MethodPost, "/nacos/v1/auth/login", form, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry login: status %d: %s", resp.StatusCode, readBody(resp))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("registry login: decode response: %w", err)
	}

	tok := &token{
		accessToken: out.AccessToken,
		expiresAt:   time.Now().Add(time.Duration(out.TokenTTL) * time.Second),
	}
	c.cached.Store(tok)
	return tok.accessToken, nil
}

// PublishConfig publishes content under dataId/group/tenant.
func (c *Client) PublishConfig(ctx context.Context, dataID, group, content, tenant string) error {
	form := url.Values{"dataId": {dataID}, "group": {group}, "content": {content}}
	if tenant != "" {
		form.Set("tenant", tenant)
	}
	_, err := c.doAuthedForm(ctx, http.MethodPost, "/nacos/v1/cs/configs", form, nil)
	return err
}

// GetConfig fetches the current content for dataId/group/tenant.
func (c *Client) GetConfig(ctx context.Context, dataID, group, tenant string) (string, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{"dataId": {dataID}, "group": {group}, "accessToken": {token}}
	if tenant != "" {
		q.Set("tenant", tenant)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nacos/v1/cs/configs?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build getConfig request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("getConfig: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if _, rerr := c.ForceRefresh(ctx); rerr != nil {
			return "", fmt.Errorf("getConfig: refresh after %d: %w", resp.StatusCode, rerr)
		}
		return "", fmt.Errorf("getConfig: retryable: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("getConfig: status %d: %s", resp.StatusCode, readBody(resp))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("getConfig: read body: %w", err)
	}
	return string(body), nil
}

// CreateInstance registers an instance under safeName, ephemeral or not as
// the ephemeral flag says.
func (c *Client) CreateInstance(ctx context.Context, safeName, ip string, port int, namespace string, metadata map[string]string, weight float64, healthy, ephemeral bool) error {
	form, err := c.instanceForm(safeName, ip, port, namespace, metadata, weight, ephemeral)
	if err != nil {
		return err
	}
	form.Set("healthy", strconv.FormatBool(healthy))
	_, err = c.doAuthedForm(ctx, http.MethodPost, "/nacos/v1/ns/instance", form, nil)
	return err
}

// SendBeat emits one heartbeat for safeName.
func (c *Client) SendBeat(ctx context.Context, safeName, ip string, port int, namespace string, metadata map[string]string, ephemeral bool, weight float64, interval time.Duration) error {
	beat := map[string]any{
		"serviceName": safeName,
		"ip":          ip,
		"port":        port,
		"weight":      weight,
		"ephemeral":   ephemeral,
		"metadata":    metadata,
		"scheduled":   true,
		"period":      interval.Milliseconds(),
	}
	beatJSON, err := json.Marshal(beat)
	if err != nil {
		return fmt.Errorf("marshal beat: %w", err)
	}
	form := url.Values{
		"serviceName": {safeName},
		"namespaceId": {namespace},
		"beat":        {string(beatJSON)},
	}
	_, err = c.doAuthedForm(ctx, http.MethodPut, "/nacos/v1/ns/instance/beat", form, nil)
	return err
}

// UpdateWeight pushes a new weight for safeName.
func (c *Client) UpdateWeight(ctx context.Context, safeName, ip string, port int, weight float64, namespace string, ephemeral bool, metadata map[string]string) error {
	form, err := c.instanceForm(safeName, ip, port, namespace, metadata, weight, ephemeral)
	if err != nil {
		return err
	}
	_, err = c.doAuthedForm(ctx, http.MethodPut, "/nacos/v1/ns/instance", form, nil)
	return err
}

// RemoveInstance deregisters safeName. Safe to call once; spec.md §6
// requires this at shutdown for every enabled identifier.
func (c *Client) RemoveInstance(ctx context.Context, safeName, ip string, port int, namespace string, ephemeral bool) error {
	form := url.Values{
		"serviceName": {safeName},
		"ip":          {ip},
		"port":        {strconv.Itoa(port)},
		"namespaceId": {namespace},
		"ephemeral":   {strconv.FormatBool(ephemeral)},
	}
	_, err := c.doAuthedForm(ctx, http.MethodDelete, "/nacos/v1/ns/instance", form, nil)
	return err
}

// GetInstanceList lists instances under safeName. Consumed only during
// shutdown / diagnostic paths (spec.md §4.A).
func (c *Client) GetInstanceList(ctx context.Context, safeName, namespace string, healthyOnly bool) ([]Instance, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	q := url.Values{
		"serviceName": {safeName},
		"namespaceId": {namespace},
		"healthyOnly": {strconv.FormatBool(healthyOnly)},
		"accessToken": {token},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nacos/v1/ns/instance/list?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build instance list request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("instance list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("instance list: status %d: %s", resp.StatusCode, readBody(resp))
	}

	var out instanceListResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("instance list: decode: %w", err)
	}
	return out.Hosts, nil
}

// instanceForm builds the shared serviceName/ip/port/weight/metadata form
// used by CreateInstance/UpdateWeight, applying the "<group>@@" prefix rule
// from spec.md §6 to safeName: a name that already carries a group prefix
// (hostsvc's "SERVICE@@..." names do) is kept as is; namespace is passed
// through unchanged.
func (c *Client) instanceForm(safeName, ip string, port int, namespace string, metadata map[string]string, weight float64, ephemeral bool) (url.Values, error) {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	name := safeName
	form := url.Values{
		"serviceName": {qualifyServiceName(name)},
		"ip":          {ip},
		"port":        {strconv.Itoa(port)},
		"namespaceId": {namespace},
		"weight":      {strconv.FormatFloat(weight, 'f', -1, 64)},
		"ephemeral":   {strconv.FormatBool(ephemeral)},
		"metadata":    {string(metaJSON)},
	}
	return form, nil
}

// qualifyServiceName applies the "<group>@@" default from spec.md §6: a
// serviceName with no group prefix defaults to DEFAULT_GROUP.
func qualifyServiceName(name string) string {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == '@' && name[i+1] == '@' {
			return name
		}
	}
	return defaultGroup + "@@" + name
}

// doAuthedForm resolves the access token, performs the request, and on a
// 401/403 forces one refresh before surfacing a retryable error to the
// caller (spec.md §4.A).
func (c *Client) doAuthedForm(ctx context.Context, method, path string, form url.Values, extraHeaders map[string]string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, form, extraHeaders)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if _, rerr := c.ForceRefresh(ctx); rerr != nil {
			return nil, fmt.Errorf("%s %s: refresh after %d: %w", method, path, resp.StatusCode, rerr)
		}
		return nil, fmt.Errorf("%s %s: retryable: status %d", method, path, resp.StatusCode)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, readBody(resp))
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, form url.Values, extraHeaders map[string]string) (*http.Request, error) {
	token, err := c.tokenForRequest(ctx, path)
	if err != nil {
		return nil, err
	}
	if token != "" {
		form = cloneValues(form)
		form.Set("accessToken", token)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// tokenForRequest skips auth entirely for the login call itself.
func (c *Client) tokenForRequest(ctx context.Context, path string) (string, error) {
	if path == "/nacos/v1/auth/login" {
		return "", nil
	}
	return c.AccessToken(ctx)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return string(b)
}
