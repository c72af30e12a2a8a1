package router

import (
	"net/http"
	"path"
	"sort"

	"github.com/gin-gonic/gin"
)

// Route is one mounted endpoint
type Route struct {
	Resource string
	Method   string
	Path     string
}

// API mounts resources under /api/<version>
type API struct {
	engine     *gin.Engine
	version    string
	middleware []gin.HandlerFunc
	resources  []*Resource
}

// Option configures an API
type Option func(*API)

// WithVersion sets the version segment of the base path, "v1" by default
func WithVersion(version string) Option {
	return func(a *API) {
		a.version = version
	}
}

// NewAPI creates an API on engine
func NewAPI(engine *gin.Engine, opts ...Option) *API {
	a := &API{engine: engine, version: "v1"}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BasePath is the prefix shared by every resource
func (a *API) BasePath() string {
	return "/api/" + a.version
}

// Use adds middleware in front of every resource
func (a *API) Use(middleware ...gin.HandlerFunc) *API {
	a.middleware = append(a.middleware, middleware...)
	return a
}

// Add queues resources for Mount
func (a *API) Add(resources ...*Resource) *API {
	a.resources = append(a.resources, resources...)
	return a
}

// Mount registers the queued resources on the engine and returns the
// resulting route table sorted by path
func (a *API) Mount() []Route {
	base := a.engine.Group(a.BasePath(), a.middleware...)
	var table []Route
	for _, res := range a.resources {
		table = append(table, res.mount(base)...)
	}
	sort.SliceStable(table, func(i, j int) bool {
		if table[i].Path != table[j].Path {
			return table[i].Path < table[j].Path
		}
		return table[i].Method < table[j].Method
	})
	return table
}

// Resource is the set of endpoints under one path prefix. Guards run
// before every endpoint of the resource.
type Resource struct {
	name      string
	prefix    string
	guards    []gin.HandlerFunc
	endpoints []endpoint
}

type endpoint struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewResource creates a resource mounted at prefix
func NewResource(name, prefix string, guards ...gin.HandlerFunc) *Resource {
	return &Resource{name: name, prefix: prefix, guards: guards}
}

// Name returns the resource name
func (r *Resource) Name() string { return r.name }

// GET adds a read endpoint
func (r *Resource) GET(relative string, handlers ...gin.HandlerFunc) *Resource {
	return r.add(http.MethodGet, relative, handlers)
}

// POST adds a write endpoint
func (r *Resource) POST(relative string, handlers ...gin.HandlerFunc) *Resource {
	return r.add(http.MethodPost, relative, handlers)
}

func (r *Resource) add(method, relative string, handlers []gin.HandlerFunc) *Resource {
	r.endpoints = append(r.endpoints, endpoint{method: method, path: relative, handlers: handlers})
	return r
}

func (r *Resource) mount(base *gin.RouterGroup) []Route {
	group := base.Group(r.prefix, r.guards...)
	routes := make([]Route, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		group.Handle(ep.method, ep.path, ep.handlers...)
		full := path.Join(group.BasePath(), ep.path)
		routes = append(routes, Route{Resource: r.name, Method: ep.method, Path: full})
	}
	return routes
}
