package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/tidwall/gjson"
)

const (
	defaultCloudURL   = "https://api.hetzner.cloud/v1"
	defaultStorageURL = "https://api.hetzner.com/v1"
	defaultRobotURL   = "https://robot-ws.your-server.de"

	maxResponseBytes = 32 << 20
	pageSize         = 50
)

type authScheme int

const (
	authBearer authScheme = iota
	authBasic
)

type bodyEncoding int

const (
	bodyJSON bodyEncoding = iota
	bodyForm
)

// Target describes one upstream API: where it lives, how it authenticates,
// how request bodies are encoded and how it reports errors.
type Target struct {
	Kind     CredentialKind
	BaseURL  string
	Auth     authScheme
	Encoding bodyEncoding
	Errors   errorTable
}

func cloudTarget(baseURL string) Target {
	return Target{Kind: KindCloud, BaseURL: baseURL, Auth: authBearer, Encoding: bodyJSON, Errors: hetznerErrors}
}

func storageTarget(baseURL string) Target {
	return Target{Kind: KindStorage, BaseURL: baseURL, Auth: authBearer, Encoding: bodyJSON, Errors: hetznerErrors}
}

func robotTarget(baseURL string) Target {
	return Target{Kind: KindRobot, BaseURL: baseURL, Auth: authBasic, Encoding: bodyForm, Errors: robotErrors}
}

// Call is one logical request against a single upstream. Path is relative
// to the upstream base URL.
type Call struct {
	Kind   CredentialKind
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// upstream is the credentialed client shared by all three APIs.
type upstream struct {
	target Target
	base   *url.URL
	client *http.Client
}

func newUpstream(t Target, client *http.Client) (*upstream, error) {
	baseURL := strings.TrimSpace(t.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s upstream base url must be configured", t.Kind)
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "https://" + baseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse %s upstream base url: %w", t.Kind, err)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &upstream{
		target: t,
		base:   base,
		client: client,
	}, nil
}

// resolve joins path onto the base URL. Only relative paths below the base
// are accepted, so a call can never leave its upstream.
func (u *upstream) resolve(path string, query url.Values) (*url.URL, error) {
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") {
		return nil, validationErrorf("resource path %q must be relative to the %s api", path, u.target.Kind)
	}
	if strings.ContainsAny(path, "?#") {
		return nil, validationErrorf("resource path %q must not carry a query or fragment", path)
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "." || seg == ".." {
			return nil, validationErrorf("resource path %q must not contain dot segments", path)
		}
	}

	tgt := *u.base
	tgt.Path = u.base.Path + path
	tgt.RawPath = ""
	tgt.RawQuery = query.Encode()
	return &tgt, nil
}

func (u *upstream) encodeBody(body any) ([]byte, string, error) {
	if body == nil {
		return nil, "", nil
	}
	switch u.target.Encoding {
	case bodyForm:
		switch b := body.(type) {
		case url.Values:
			return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
		case map[string]string:
			v := url.Values{}
			for k, val := range b {
				v.Set(k, val)
			}
			return []byte(v.Encode()), "application/x-www-form-urlencoded", nil
		}
		return nil, "", validationErrorf("%s request body must be form values, got %T", u.target.Kind, body)
	default:
		if raw, ok := body.(json.RawMessage); ok {
			if !json.Valid(raw) {
				return nil, "", validationErrorf("request body is not valid json")
			}
			return raw, "application/json", nil
		}
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", validationErrorf("marshal request: %v", err)
		}
		return b, "application/json", nil
	}
}

func encodeUpstreamRequest(body []byte, contentType string) kithttp.EncodeRequestFunc {
	return func(_ context.Context, r *http.Request, _ interface{}) error {
		r.Header.Set("Accept", "application/json")
		if body == nil {
			return nil
		}
		r.Header.Set("Content-Type", contentType)
		r.ContentLength = int64(len(body))
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		return nil
	}
}

func (u *upstream) authorize(cred Credential) kithttp.RequestFunc {
	return func(ctx context.Context, r *http.Request) context.Context {
		switch u.target.Auth {
		case authBasic:
			r.SetBasicAuth(cred.Username, cred.Password)
		default:
			r.Header.Set("Authorization", "Bearer "+cred.Token)
		}
		return ctx
	}
}

func (u *upstream) decodeResponse(out any) kithttp.DecodeResponseFunc {
	return func(_ context.Context, resp *http.Response) (interface{}, error) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, upstreamError("read response", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, u.target.Errors.classify(resp.StatusCode, body)
		}
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return nil, upstreamError("decode response", err)
		}
		return nil, nil
	}
}

// do performs call with cred and decodes a successful JSON body into out
// (if non-nil). Every failure is returned as an *Error.
func (u *upstream) do(ctx context.Context, cred Credential, call Call, out any) error {
	if call.Kind != u.target.Kind {
		return validationErrorf("%s call routed to the %s api", call.Kind, u.target.Kind)
	}
	if err := cred.check(u.target.Kind); err != nil {
		return err
	}
	tgt, err := u.resolve(call.Path, call.Query)
	if err != nil {
		return err
	}
	body, contentType, err := u.encodeBody(call.Body)
	if err != nil {
		return err
	}

	c := kithttp.NewClient(
		call.Method,
		tgt,
		encodeUpstreamRequest(body, contentType),
		u.decodeResponse(out),
		kithttp.SetClient(u.client),
		kithttp.ClientBefore(u.authorize(cred)),
	)
	if _, err := c.Endpoint()(ctx, nil); err != nil {
		var gwErr *Error
		if errors.As(err, &gwErr) {
			return gwErr
		}
		return upstreamError(fmt.Sprintf("%s %s", call.Method, call.Path), err)
	}
	return nil
}

func (u *upstream) get(ctx context.Context, cred Credential, path string, query url.Values, out any) error {
	return u.do(ctx, cred, Call{Kind: u.target.Kind, Method: http.MethodGet, Path: path, Query: query}, out)
}

// listAll fetches every page of the collection stored under key, following
// meta.pagination.next_page.
func listAll[T any](ctx context.Context, u *upstream, cred Credential, path, key string, query url.Values) ([]T, error) {
	q := url.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}
	q.Set("per_page", strconv.Itoa(pageSize))

	items := make([]T, 0)
	page := 1
	for {
		q.Set("page", strconv.Itoa(page))
		var raw json.RawMessage
		if err := u.get(ctx, cred, path, q, &raw); err != nil {
			return nil, err
		}
		res := gjson.ParseBytes(raw)
		collection := res.Get(key)
		if !collection.IsArray() {
			return nil, upstreamError("decode response", fmt.Errorf("missing %q collection", key))
		}
		var batch []T
		if err := json.Unmarshal([]byte(collection.Raw), &batch); err != nil {
			return nil, upstreamError("decode response", err)
		}
		items = append(items, batch...)

		next := res.Get("meta.pagination.next_page")
		if next.Type != gjson.Number || int(next.Int()) <= page {
			return items, nil
		}
		page = int(next.Int())
	}
}
