// Package controlapi is the northbound HTTP control surface: dataplane
// pool inspection and flow install/erase, validated against an embedded
// OpenAPI document before any handler runs.
package controlapi

import (
	"context"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	"github.com/flowpathio/flowpath/pkg/component"
	"github.com/flowpathio/flowpath/pkg/dataplane"
	"github.com/flowpathio/flowpath/pkg/instruction"
	"github.com/flowpathio/flowpath/pkg/logger"
	"github.com/flowpathio/flowpath/pkg/packet"
	"github.com/flowpathio/flowpath/pkg/system"
	"github.com/flowpathio/flowpath/pkg/table"
)

//go:embed openapi.yaml
var specYAML []byte

func init() {
	component.Register("controlapi", New)
}

// Component serves the control API over HTTP, validating every request
// against the embedded spec before dispatching to a handler.
type Component struct {
	*component.Base
	logger *slog.Logger
	sys    *system.System
	addr   string
	server *http.Server
	router routers.Router
	doc    *openapi3.T
}

// New constructs the control API component if enabled in cfg.
func New(deps component.Dependencies) (component.Component, error) {
	if deps.Config == nil || !deps.Config.ControlAPI.Enabled {
		return nil, nil
	}
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("controlapi: load spec: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("controlapi: invalid spec: %w", err)
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("controlapi: build router: %w", err)
	}
	return &Component{
		Base:   component.NewBase("controlapi"),
		logger: logger.Component(logger.ControlAPI),
		sys:    deps.System,
		addr:   deps.Config.ControlAPI.Address,
		router: router,
		doc:    doc,
	}, nil
}

func (c *Component) Start(ctx context.Context) error {
	c.StartContext(ctx)
	c.logger.Info("starting control API", "addr", c.addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/dataplanes", c.validated(c.listDataplanes))
	mux.HandleFunc("/api/dataplanes/", c.validated(c.dispatchDataplane))
	c.server = &http.Server{Addr: c.addr, Handler: mux}

	c.Go(func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error("control API server failed", "error", err)
		}
	})
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	c.logger.Info("stopping control API")
	if c.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.server.Shutdown(shutdownCtx)
	}
	c.StopContext()
	return nil
}

// validated wraps a handler so every request is checked against the
// embedded OpenAPI document before the handler body runs.
func (c *Component) validated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		route, pathParams, err := c.router.FindRoute(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		input := &openapi3filter.RequestValidationInput{
			Request:    r,
			PathParams: pathParams,
			Route:      route,
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (c *Component) listDataplanes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.sys.List())
}

// dispatchDataplane routes /api/dataplanes/{name}/... requests: the
// embedded spec's router already validated the request shape, so this
// only needs to split the path and find the target resources.
func (c *Component) dispatchDataplane(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/dataplanes/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	dp, err := c.sys.Get(parts[0])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "pool":
		c.getPoolStatus(w, dp)
	case len(parts) == 3 && parts[1] == "tables" && r.Method == http.MethodGet:
		c.getTable(w, dp, parts[2])
	case len(parts) == 4 && parts[1] == "tables" && parts[3] == "flows" && r.Method == http.MethodGet:
		c.listFlows(w, dp, parts[2])
	case len(parts) == 4 && parts[1] == "tables" && parts[3] == "flows":
		c.dispatchFlow(w, r, dp, parts[2])
	default:
		http.NotFound(w, r)
	}
}

func (c *Component) getPoolStatus(w http.ResponseWriter, dp *dataplane.Dataplane) {
	writeJSON(w, http.StatusOK, map[string]int{
		"capacity":  dp.Pool().Capacity(),
		"available": dp.Pool().Available(),
	})
}

func (c *Component) tableByIDStr(w http.ResponseWriter, dp *dataplane.Dataplane, idStr string) (*table.Table, uint32, bool) {
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		http.Error(w, "invalid table id", http.StatusBadRequest)
		return nil, 0, false
	}
	t, err := dp.Table(uint32(id))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, 0, false
	}
	return t, uint32(id), true
}

// tableInfo is the GET /tables/{id} response body: metadata a caller
// needs before it starts installing or listing flows.
type tableInfo struct {
	ID        uint32 `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	KeySize   int    `json:"key_size"`
	FlowCount int    `json:"flow_count"`
	Lookups   uint64 `json:"lookups"`
	Misses    uint64 `json:"misses"`
}

func (c *Component) getTable(w http.ResponseWriter, dp *dataplane.Dataplane, idStr string) {
	t, id, ok := c.tableByIDStr(w, dp, idStr)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tableInfo{
		ID:        id,
		Name:      t.Name(),
		Type:      t.Type().String(),
		KeySize:   t.KeySize(),
		FlowCount: t.Count(),
		Lookups:   t.Lookups(),
		Misses:    t.Misses(),
	})
}

// flowInfo is one entry in the GET /tables/{id}/flows response: the
// installed flow's key and attributes alongside its §4.4 counters.
type flowInfo struct {
	KeyHex             string  `json:"key_hex"`
	Priority           uint16  `json:"priority"`
	Cookie             uint64  `json:"cookie"`
	Flags              uint32  `json:"flags"`
	HardTimeoutSeconds float64 `json:"hard_timeout_seconds"`
	IdleTimeoutSeconds float64 `json:"idle_timeout_seconds"`
	Packets            uint64  `json:"packets"`
	Bytes              uint64  `json:"bytes"`
	TimestampUnixNano  int64   `json:"timestamp_unix_nano"`
}

func (c *Component) listFlows(w http.ResponseWriter, dp *dataplane.Dataplane, idStr string) {
	t, _, ok := c.tableByIDStr(w, dp, idStr)
	if !ok {
		return
	}
	entries := t.Flows()
	out := make([]flowInfo, 0, len(entries))
	for _, e := range entries {
		timeouts := e.Flow.Timeouts()
		out = append(out, flowInfo{
			KeyHex:             fmt.Sprintf("%x", e.Key),
			Priority:           e.Flow.Priority(),
			Cookie:             e.Flow.Cookie(),
			Flags:              e.Flow.Flags(),
			HardTimeoutSeconds: timeouts.Hard.Seconds(),
			IdleTimeoutSeconds: timeouts.Idle.Seconds(),
			Packets:            e.Flow.Packets(),
			Bytes:              e.Flow.Bytes(),
			TimestampUnixNano:  e.Flow.Timestamp(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type flowRequest struct {
	KeyHex             string `json:"key_hex"`
	Port               uint32 `json:"port"`
	Priority           uint16 `json:"priority,omitempty"`
	Cookie             uint64 `json:"cookie,omitempty"`
	HardTimeoutSeconds uint32 `json:"hard_timeout_seconds,omitempty"`
	IdleTimeoutSeconds uint32 `json:"idle_timeout_seconds,omitempty"`
	InstructionsHex    string `json:"instructions_hex,omitempty"`
}

// instructionBytes decodes the request's optional hex-encoded instruction
// program, returning nil if the request carries none.
func (r flowRequest) instructionBytes() []byte {
	if r.InstructionsHex == "" {
		return nil
	}
	b, err := hex.DecodeString(r.InstructionsHex)
	if err != nil {
		return nil
	}
	return b
}

func (c *Component) dispatchFlow(w http.ResponseWriter, r *http.Request, dp *dataplane.Dataplane, tableIDStr string) {
	_, tableID, ok := c.tableByIDStr(w, dp, tableIDStr)
	if !ok {
		return
	}

	var req flowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	key, err := hex.DecodeString(req.KeyHex)
	if err != nil {
		http.Error(w, "invalid key_hex", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPost:
		c.installFlow(w, dp, tableID, key, req)
	case http.MethodDelete:
		if err := dp.EraseFlow(tableID, key); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) installFlow(w http.ResponseWriter, dp *dataplane.Dataplane, tableID uint32, key []byte, req flowRequest) {
	instrs, err := instruction.DecodeProgram(req.instructionBytes())
	var instr table.InstrFunc
	if err == nil && len(instrs) > 0 {
		program := instrs
		instr = func(tbl *table.Table, ctx *packet.Context) error {
			return instruction.Run(program, ctx)
		}
	} else {
		port := req.Port
		instr = func(tbl *table.Table, ctx *packet.Context) error {
			return ctx.Pipeline().OutputPort(ctx, port)
		}
	}

	attrs := table.FlowAttrs{
		Priority: req.Priority,
		Cookie:   req.Cookie,
		Timeouts: table.FlowTimeouts{
			Hard: time.Duration(req.HardTimeoutSeconds) * time.Second,
			Idle: time.Duration(req.IdleTimeoutSeconds) * time.Second,
		},
	}
	if _, err := dp.InstallFlow(tableID, key, instr, attrs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}
