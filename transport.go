package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/endpoint"
	kittransport "github.com/go-kit/kit/transport"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/go-kit/log"
	"github.com/gorilla/mux"
	"tailscale.com/client/tailscale"
)

// makeHandler returns the panel handler. lc is nil when not serving on a
// tailnet, staticPath empty when no bundle is served.
func makeHandler(s Service, lc *tailscale.LocalClient, staticPath string, logger log.Logger) (http.Handler, error) {
	r := mux.NewRouter()

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorHandler(kittransport.NewLogErrorHandler(logger)),
		kithttp.ServerErrorEncoder(encodeError),
	}
	encode := makeJSONResponseEncoder()

	handle := func(method, path string, kind CredentialKind, e endpoint.Endpoint) {
		r.Handle(path, kithttp.NewServer(e, makeDecodeAPIRequest(kind), encode, opts...)).Methods(method)
	}
	forward := func(method, path string, p passthrough) {
		handle(method, path, p.kind, makeInvokeEndpoint(s, p))
	}
	cloud := func(method, path string, status int) passthrough {
		return passthrough{kind: KindCloud, method: method, path: path, status: status}
	}
	storage := func(method, path string, status int) passthrough {
		return passthrough{kind: KindStorage, method: method, path: path, status: status}
	}
	robot := func(method, path string) passthrough {
		return passthrough{kind: KindRobot, method: method, path: path}
	}

	// cloud
	handle("POST", "/api/test-token", KindCloud, makeValidateEndpoint(s))
	handle("GET", "/api/servers", KindCloud, makeListEndpoint("servers", s.Servers))
	forward("POST", "/api/servers", cloud("POST", "/servers", http.StatusCreated))
	handle("GET", "/api/servers/{id:[0-9]+}", KindCloud, makeGetEndpoint("server", "id", s.Server))
	forward("DELETE", "/api/servers/{id:[0-9]+}", cloud("DELETE", "/servers/{id}", 0))
	handle("POST", "/api/servers/{id:[0-9]+}/power", KindCloud, makePowerEndpoint(s))
	handle("GET", "/api/servers/{id:[0-9]+}/metrics", KindCloud, makeMetricsEndpoint(s))
	handle("GET", "/api/server-types", KindCloud, makeListEndpoint("server_types", s.ServerTypes))
	handle("GET", "/api/images", KindCloud, makeListEndpoint("images", s.Images))
	handle("GET", "/api/locations", KindCloud, makeListEndpoint("locations", s.Locations))

	handle("GET", "/api/ssh-keys", KindCloud, makeListEndpoint("ssh_keys", s.SSHKeys))
	forward("POST", "/api/ssh-keys", cloud("POST", "/ssh_keys", http.StatusCreated))
	forward("DELETE", "/api/ssh-keys/{id:[0-9]+}", cloud("DELETE", "/ssh_keys/{id}", 0))

	handle("GET", "/api/floating-ips", KindCloud, makeListEndpoint("floating_ips", s.FloatingIPs))
	forward("POST", "/api/floating-ips", cloud("POST", "/floating_ips", http.StatusCreated))
	forward("DELETE", "/api/floating-ips/{id:[0-9]+}", cloud("DELETE", "/floating_ips/{id}", 0))
	handle("POST", "/api/floating-ips/{id:[0-9]+}/assign", KindCloud, makeLinkEndpoint(s, LinkFloatingIP, true))
	handle("POST", "/api/floating-ips/{id:[0-9]+}/unassign", KindCloud, makeLinkEndpoint(s, LinkFloatingIP, false))

	handle("GET", "/api/volumes", KindCloud, makeListEndpoint("volumes", s.Volumes))
	forward("POST", "/api/volumes", cloud("POST", "/volumes", http.StatusCreated))
	forward("DELETE", "/api/volumes/{id:[0-9]+}", cloud("DELETE", "/volumes/{id}", 0))
	handle("POST", "/api/volumes/{id:[0-9]+}/attach", KindCloud, makeLinkEndpoint(s, LinkVolume, true))
	handle("POST", "/api/volumes/{id:[0-9]+}/detach", KindCloud, makeLinkEndpoint(s, LinkVolume, false))

	handle("GET", "/api/firewalls", KindCloud, makeListEndpoint("firewalls", s.Firewalls))
	forward("POST", "/api/firewalls", cloud("POST", "/firewalls", http.StatusCreated))
	forward("DELETE", "/api/firewalls/{id:[0-9]+}", cloud("DELETE", "/firewalls/{id}", 0))

	handle("GET", "/api/load-balancers", KindCloud, makeListEndpoint("load_balancers", s.LoadBalancers))
	forward("DELETE", "/api/load-balancers/{id:[0-9]+}", cloud("DELETE", "/load_balancers/{id}", 0))

	handle("GET", "/api/networks", KindCloud, makeListEndpoint("networks", s.Networks))
	forward("POST", "/api/networks", cloud("POST", "/networks", http.StatusCreated))
	forward("DELETE", "/api/networks/{id:[0-9]+}", cloud("DELETE", "/networks/{id}", 0))
	handle("POST", "/api/networks/{id:[0-9]+}/attach", KindCloud, makeLinkEndpoint(s, LinkNetwork, true))
	handle("POST", "/api/networks/{id:[0-9]+}/detach", KindCloud, makeLinkEndpoint(s, LinkNetwork, false))

	handle("GET", "/api/topology", KindCloud, makeTopologyEndpoint(s))

	// storage boxes
	handle("POST", "/api/storage/test-token", KindStorage, makeValidateEndpoint(s))
	handle("GET", "/api/storage/boxes", KindStorage, makeListEndpoint("storage_boxes", s.StorageBoxes))
	forward("POST", "/api/storage/boxes", storage("POST", "/storage_boxes", http.StatusCreated))
	handle("GET", "/api/storage/boxes/{id:[0-9]+}", KindStorage, makeGetEndpoint("storage_box", "id", s.StorageBox))
	forward("PUT", "/api/storage/boxes/{id:[0-9]+}", storage("PUT", "/storage_boxes/{id}", 0))
	forward("DELETE", "/api/storage/boxes/{id:[0-9]+}", storage("DELETE", "/storage_boxes/{id}", 0))
	handle("GET", "/api/storage/boxes/{id:[0-9]+}/folders", KindStorage, makeFoldersEndpoint(s))
	boxAction := storage("POST", "/storage_boxes/{id}/actions/{action}", 0)
	boxAction.actions = storageBoxActions
	forward("POST", "/api/storage/boxes/{id:[0-9]+}/actions/{action}", boxAction)

	handle("GET", "/api/storage/boxes/{id:[0-9]+}/subaccounts", KindStorage, makeGetEndpoint("subaccounts", "id", s.Subaccounts))
	forward("POST", "/api/storage/boxes/{id:[0-9]+}/subaccounts", storage("POST", "/storage_boxes/{id}/subaccounts", http.StatusCreated))
	forward("GET", "/api/storage/boxes/{id:[0-9]+}/subaccounts/{sid:[0-9]+}", storage("GET", "/storage_boxes/{id}/subaccounts/{sid}", 0))
	forward("PUT", "/api/storage/boxes/{id:[0-9]+}/subaccounts/{sid:[0-9]+}", storage("PUT", "/storage_boxes/{id}/subaccounts/{sid}", 0))
	forward("DELETE", "/api/storage/boxes/{id:[0-9]+}/subaccounts/{sid:[0-9]+}", storage("DELETE", "/storage_boxes/{id}/subaccounts/{sid}", 0))
	subAction := storage("POST", "/storage_boxes/{id}/subaccounts/{sid}/actions/{action}", 0)
	subAction.actions = subaccountActions
	forward("POST", "/api/storage/boxes/{id:[0-9]+}/subaccounts/{sid:[0-9]+}/actions/{action}", subAction)

	// robot
	handle("POST", "/api/robot/test-token", KindRobot, makeValidateEndpoint(s))
	handle("GET", "/api/robot/servers", KindRobot, makeListEndpoint("servers", s.DedicatedServers))
	handle("GET", "/api/robot/servers/{number:[0-9]+}", KindRobot, makeGetEndpoint("server", "number", s.DedicatedServer))
	forward("POST", "/api/robot/servers/{number:[0-9]+}", robot("POST", "/server/{number}"))
	handle("GET", "/api/robot/servers/{number:[0-9]+}/reset", KindRobot, makeGetEndpoint("reset", "number", s.ResetOptions))
	forward("POST", "/api/robot/servers/{number:[0-9]+}/reset", robot("POST", "/reset/{number}"))
	forward("POST", "/api/robot/servers/{number:[0-9]+}/wol", robot("POST", "/wol/{number}"))
	handle("GET", "/api/robot/servers/{number:[0-9]+}/traffic", KindRobot, makeTrafficEndpoint(s))
	handle("GET", "/api/robot/failover", KindRobot, makeListEndpoint("failover", s.FailoverIPs))
	forward("GET", "/api/robot/failover/{ip}", robot("GET", "/failover/{ip}"))
	forward("POST", "/api/robot/failover/{ip}", robot("POST", "/failover/{ip}"))
	forward("DELETE", "/api/robot/failover/{ip}", robot("DELETE", "/failover/{ip}"))
	handle("GET", "/api/robot/rdns/{ip}", KindRobot, makeReverseDNSEndpoint(s))
	forward("PUT", "/api/robot/rdns/{ip}", robot("PUT", "/rdns/{ip}"))
	forward("DELETE", "/api/robot/rdns/{ip}", robot("DELETE", "/rdns/{ip}"))

	if lc != nil {
		whoHandler := kithttp.NewServer(
			makeWhoEndpoint(s, lc),
			decodeWhoRequest,
			encode,
			opts...,
		)
		r.Handle("/api/who", whoHandler).Methods("GET")
	}

	r.PathPrefix("/api/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		encodeError(r.Context(), notFoundErrorf("no route for %s %s", r.Method, r.URL.Path), w)
	})

	// static content, with SPA redirecting
	if staticPath != "" {
		var mySPAHandler SPAFileSystem
		if filepath.Ext(staticPath) == ".zip" {
			zr, err := zip.OpenReader(staticPath)
			if err != nil {
				return nil, fmt.Errorf("open static bundle %q: %w", staticPath, err)
			}
			logger.Log("msg", "serving static bundle from zip", "path", staticPath)
			mySPAHandler = NewSPAFileSystem(zr, "index.html")
		} else {
			logger.Log("msg", "serving static bundle from dir", "path", staticPath)
			mySPAHandler = NewSPAFileSystem(os.DirFS(staticPath), "index.html")
		}
		r.PathPrefix("/").Handler(http.FileServerFS(mySPAHandler))
	}

	return withRequestID(r), nil
}

// encode errors from business-logic
func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	body := map[string]interface{}{
		"error": err.Error(),
	}
	status := http.StatusInternalServerError
	var gwErr *Error
	if errors.As(err, &gwErr) {
		status = gwErr.StatusCode()
		if len(gwErr.Fields) > 0 {
			body["fields"] = gwErr.Fields
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// encodeJSONResponse marshals before writing the header, so an unencodable
// response still gets an error status.
func encodeJSONResponse(_ context.Context, w http.ResponseWriter, status int, response any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(response); err != nil {
		return upstreamError("encode response", err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write(buf.Bytes())
	return err
}
