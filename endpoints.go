package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-kit/kit/endpoint"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"tailscale.com/client/tailscale"
)

const maxRequestBytes = 1 << 20

type emptyResponse struct {
	Err error `json:"error,omitempty"`
}

type jsonResponse struct {
	emptyResponse
	Res any

	// status overrides 200 OK on success
	status int
}

type whoRequest struct {
	remoteAddr string
}

func decodeWhoRequest(ctx context.Context, r *http.Request) (interface{}, error) {
	return whoRequest{
		remoteAddr: r.RemoteAddr,
	}, nil
}

func makeWhoEndpoint(s Service, lc *tailscale.LocalClient) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(whoRequest)
		userProfile, err := s.Who(ctx, lc, req.remoteAddr)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           userProfile,
		}, nil
	}
}

// apiRequest is the decoded form of every credentialed route.
type apiRequest struct {
	cred  Credential
	vars  map[string]string
	query url.Values
	body  json.RawMessage
	form  url.Values
}

func (r apiRequest) id(name string) (int64, error) {
	v, err := strconv.ParseInt(r.vars[name], 10, 64)
	if err != nil || v <= 0 {
		return 0, validationErrorf("%s must be a positive integer", name)
	}
	return v, nil
}

func (r apiRequest) decodeBody(v any) error {
	if len(r.body) == 0 {
		return validationErrorf("request body is required")
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return validationErrorf("invalid request body: %v", err)
	}
	return nil
}

// upstreamBody is the body to forward: json for cloud and storage, form
// values for Robot.
func (r apiRequest) upstreamBody(kind CredentialKind) (any, error) {
	if kind == KindRobot {
		if r.form != nil {
			return r.form, nil
		}
		if len(r.body) == 0 {
			return nil, nil
		}
		return jsonToForm(r.body)
	}
	if r.form != nil {
		return nil, validationErrorf("%s requests take a json body", kind)
	}
	if len(r.body) == 0 {
		return nil, nil
	}
	return r.body, nil
}

// makeDecodeAPIRequest extracts the credential of kind before anything else,
// so a request without one fails with 401 whatever else is wrong with it.
func makeDecodeAPIRequest(kind CredentialKind) kithttp.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		cred, err := credentialFromRequest(kind, r)
		if err != nil {
			return nil, err
		}
		req := apiRequest{
			cred:  cred,
			vars:  mux.Vars(r),
			query: r.URL.Query(),
		}
		if r.Body == nil {
			return req, nil
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
		if err != nil {
			return nil, validationErrorf("read request body: %v", err)
		}
		if len(body) > maxRequestBytes {
			return nil, validationErrorf("request body exceeds %d bytes", maxRequestBytes)
		}
		body = bytes.TrimSpace(body)
		if len(body) == 0 {
			return req, nil
		}
		if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "application/x-www-form-urlencoded" {
			form, err := url.ParseQuery(string(body))
			if err != nil {
				return nil, validationErrorf("invalid form body: %v", err)
			}
			req.form = form
			return req, nil
		}
		if !json.Valid(body) {
			return nil, validationErrorf("request body is not valid json")
		}
		req.body = body
		return req, nil
	}
}

// jsonToForm flattens a json object into Robot's form encoding, arrays
// becoming repeated key[] values.
func jsonToForm(raw json.RawMessage) (url.Values, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, validationErrorf("robot request body must be a json object")
	}
	form := url.Values{}
	for k, v := range obj {
		if items, ok := v.([]any); ok {
			for _, item := range items {
				s, err := formValue(k, item)
				if err != nil {
					return nil, err
				}
				form.Add(k+"[]", s)
			}
			continue
		}
		s, err := formValue(k, v)
		if err != nil {
			return nil, err
		}
		form.Set(k, s)
	}
	return form, nil
}

func formValue(key string, v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	}
	return "", validationErrorf("field %q cannot be form encoded", key)
}

func makeValidateEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		err := s.ValidateCredential(ctx, req.cred)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"valid": true},
		}, nil
	}
}

// makeListEndpoint serves a collection under key.
func makeListEndpoint[T any](key string, list func(context.Context, Credential) ([]T, error)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		items, err := list(ctx, req.cred)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{key: items},
		}, nil
	}
}

// makeGetEndpoint serves one resource, addressed by the numeric route
// variable idVar, under key.
func makeGetEndpoint[T any](key, idVar string, get func(context.Context, Credential, int64) (T, error)) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		id, err := req.id(idVar)
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		item, err := get(ctx, req.cred, id)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{key: item},
		}, nil
	}
}

func makeTopologyEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		topo, err := s.Topology(ctx, req.cred)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"topology": topo},
		}, nil
	}
}

func makeMetricsEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		id, err := req.id("id")
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		metric := req.query.Get("type")
		if metric == "" {
			metric = "cpu"
		}
		timeRange := req.query.Get("range")
		if timeRange == "" {
			timeRange = "1h"
		}
		bundle, err := s.Metrics(ctx, req.cred, id, metric, timeRange)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"metrics": bundle},
		}, nil
	}
}

func makePowerEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		id, err := req.id("id")
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		var body struct {
			Action string `json:"action"`
		}
		if err := req.decodeBody(&body); err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		action, err := s.PowerAction(ctx, req.cred, id, body.Action)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"action": action},
		}, nil
	}
}

type linkBody struct {
	ServerID  int64  `json:"server_id"`
	IP        string `json:"ip"`
	Automount *bool  `json:"automount"`
}

func makeLinkEndpoint(s Service, kind LinkKind, attach bool) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		id, err := req.id("id")
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		var body linkBody
		if len(req.body) > 0 {
			if err := req.decodeBody(&body); err != nil {
				return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
			}
		}
		link := Link{
			Kind:       kind,
			ResourceID: id,
			ServerID:   body.ServerID,
			IP:         body.IP,
			Automount:  body.Automount,
		}
		var action *Action
		if attach {
			action, err = s.Attach(ctx, req.cred, link)
		} else {
			action, err = s.Detach(ctx, req.cred, link)
		}
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"action": action},
		}, nil
	}
}

func makeFoldersEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		id, err := req.id("id")
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		folders, err := s.Folders(ctx, req.cred, id, req.query.Get("path"))
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"folders": folders},
		}, nil
	}
}

func makeReverseDNSEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		rdns, err := s.ReverseDNS(ctx, req.cred, req.vars["ip"])
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"rdns": rdns},
		}, nil
	}
}

func makeTrafficEndpoint(s Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		number, err := req.id("number")
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		q := TrafficQuery{
			Type: req.query.Get("type"),
			From: req.query.Get("from"),
			To:   req.query.Get("to"),
		}
		stats, err := s.Traffic(ctx, req.cred, number, q)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           map[string]any{"traffic": stats},
		}, nil
	}
}

// passthrough forwards a route to one upstream path. Route variables fill
// the {name} placeholders of path.
type passthrough struct {
	kind    CredentialKind
	method  string
	path    string
	status  int
	actions map[string]string // route {action} to upstream action, if any
}

func (p passthrough) call(req apiRequest) (Call, error) {
	vars := req.vars
	if p.actions != nil {
		action, ok := p.actions[vars["action"]]
		if !ok {
			return Call{}, validationErrorf("unsupported action %q, expected one of %v", vars["action"], sortedKeys(p.actions))
		}
		vars = make(map[string]string, len(req.vars))
		for k, v := range req.vars {
			vars[k] = v
		}
		vars["action"] = action
	}
	body, err := req.upstreamBody(p.kind)
	if err != nil {
		return Call{}, err
	}
	call := Call{
		Kind:   p.kind,
		Method: p.method,
		Path:   expandPath(p.path, vars),
		Body:   body,
	}
	if p.method == http.MethodGet {
		call.Query = req.query
	}
	return call, nil
}

func expandPath(tmpl string, vars map[string]string) string {
	oldnew := make([]string, 0, 2*len(vars))
	for k, v := range vars {
		oldnew = append(oldnew, "{"+k+"}", v)
	}
	return strings.NewReplacer(oldnew...).Replace(tmpl)
}

func makeInvokeEndpoint(s Service, p passthrough) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req := request.(apiRequest)
		call, err := p.call(req)
		if err != nil {
			return jsonResponse{emptyResponse: emptyResponse{Err: err}}, nil
		}
		raw, err := s.Invoke(ctx, req.cred, call)
		return jsonResponse{
			emptyResponse: emptyResponse{Err: err},
			Res:           raw,
			status:        p.status,
		}, nil
	}
}

func makeJSONResponseEncoder() kithttp.EncodeResponseFunc {
	return func(ctx context.Context, w http.ResponseWriter, response any) error {
		res := response.(jsonResponse)
		if res.Err != nil {
			encodeError(ctx, res.Err, w)
			return nil
		}
		status := res.status
		if status == 0 {
			status = http.StatusOK
		}
		return encodeJSONResponse(ctx, w, status, res.Res)
	}
}
