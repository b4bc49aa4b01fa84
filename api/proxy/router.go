package proxy

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nodeship/api/logging"
)

// Router dispatches requests to the configured rules. It is built once from a
// Config and never changes; new routes take a new backend build and a new proxy.
type Router struct {
	exact  map[string]http.Handler
	prefix []prefixRoute // longest first
	log    *zap.Logger
}

type prefixRoute struct {
	path    string
	handler http.Handler
}

// NewRouter validates cfg and builds its handlers. Exact locations win over
// prefixes; among prefixes the longest match wins.
func NewRouter(cfg Config, log *zap.Logger) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &Router{exact: map[string]http.Handler{}, log: logging.OrNop(log)}

	for _, rule := range cfg.Rules {
		var h http.Handler
		var err error
		if rule.Static != nil {
			h = staticHandler(rule)
		} else {
			h, err = rt.proxyHandler(rule)
			if err != nil {
				return nil, err
			}
		}
		if rule.Match == MatchExact {
			rt.exact[rule.Path] = h
		} else {
			rt.prefix = append(rt.prefix, prefixRoute{path: rule.Path, handler: h})
		}
	}
	sort.SliceStable(rt.prefix, func(i, j int) bool {
		return len(rt.prefix[i].path) > len(rt.prefix[j].path)
	})
	return rt, nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if h, ok := rt.exact[p]; ok {
		h.ServeHTTP(w, r)
		return
	}
	for _, pr := range rt.prefix {
		if strings.HasPrefix(p, pr.path) {
			pr.handler.ServeHTTP(w, r)
			return
		}
	}
	// /blockchain -> /blockchain/ when only the slashed location exists
	for _, pr := range rt.prefix {
		if p+"/" == pr.path {
			u := *r.URL
			u.Path = pr.path
			http.Redirect(w, r, u.RequestURI(), http.StatusMovedPermanently)
			return
		}
	}
	http.NotFound(w, r)
}

func (rt *Router) proxyHandler(rule RoutingRule) (http.Handler, error) {
	upstream, err := url.Parse(rule.Upstream)
	if err != nil {
		return nil, err
	}
	var sub *Substitution
	if rule.Substitution != nil {
		c := *rule.Substitution
		sub = &c
	}

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Scheme = upstream.Scheme
			pr.Out.URL.Host = upstream.Host
			pr.Out.URL.Path = rule.ForwardPath(pr.In.URL.Path)
			pr.Out.URL.RawPath = ""
			pr.Out.Host = pr.In.Host
			pr.Out.Header["X-Forwarded-For"] = pr.In.Header["X-Forwarded-For"]
			pr.SetXForwarded()
			if sub != nil {
				// identity also stops the transport from negotiating gzip itself
				pr.Out.Header.Set("Accept-Encoding", "identity")
			}
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			rt.log.Warn("upstream error",
				zap.String("location", rule.String()),
				zap.String("path", r.URL.Path),
				zap.Error(err))
			w.WriteHeader(http.StatusBadGateway)
		},
	}
	if sub != nil {
		rp.ModifyResponse = func(resp *http.Response) error {
			return substitute(resp, sub)
		}
	}
	return rp, nil
}

// substitute replaces the first marker in an uncompressed HTML body.
func substitute(resp *http.Response, sub *Substitution) error {
	if resp.Header.Get("Content-Encoding") != "" {
		return nil
	}
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt != "text/html" {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read upstream body: %w", err)
	}
	body = bytes.Replace(body, []byte(sub.Marker), []byte(sub.Replacement), 1)
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Del("Last-Modified")
	return nil
}

func staticHandler(rule RoutingRule) http.Handler {
	var fsys http.FileSystem = http.Dir(rule.Static.Root)
	if !rule.Static.Listing {
		fsys = noListing{fsys}
	}
	return http.StripPrefix(rule.Path, http.FileServer(fsys))
}

// noListing refuses directories without an index page.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		idx, err := n.fs.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, &fs.PathError{Op: "open", Path: name, Err: os.ErrPermission}
		}
		idx.Close()
	}
	return f, nil
}
