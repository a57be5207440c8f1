// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/LeeDigitalWorks/basins3/pkg/s3api/s3action"

	"golang.org/x/text/encoding/charmap"
)

// Match represents a successful S3 operation match.
type Match struct {
	Action s3action.Action
	Bucket string
	Key    string
}

// Router parses the operation, bucket and key out of an S3 request.
type Router struct {
	routers []router
}

// NewRouter returns a router for domain. With a domain, requests to
// "bucket.domain" are virtual-hosted; requests to any other host, or to a
// gateway without a domain, are path-style.
func NewRouter(domain string) *Router {
	pr := newPathRouter()
	sr := newServiceRouter()

	var routers []router
	if domain != "" {
		routers = append(routers,
			serviceRouter{host: domain, r: sr},
			newBucketHost(domain, pr),
			newLegacyHost(domain, pr),
		)
	}

	// Path-style on any host. Must be last.
	routers = append(routers,
		serviceRouter{r: sr},
		newLegacyHost("", pr),
	)

	return &Router{routers: routers}
}

// MatchRequest returns the Match information and true if a request can be successfully
// parsed. Otherwise, it returns an empty Match and false.
func (r *Router) MatchRequest(req *http.Request) (Match, bool) {
	host := getHost(req)
	v := req.URL.Query()

	for _, r := range r.routers {
		if match, ok := r.matchReq(host, req, v); ok {
			if err := normalizeUTF8(&match); err != nil {
				return match, false
			}
			return match, true
		}
	}
	return Match{}, false
}

func normalizeUTF8(m *Match) error {
	var err error
	if m.Bucket, err = getUTF8String(m.Bucket); err != nil {
		return err
	}
	m.Key, err = getUTF8String(m.Key)
	return err
}

type router interface {
	matchReq(host string, r *http.Request, v url.Values) (Match, bool)
}

// legacyHost represents a request with the bucket in the path (path-style).
// An empty host matches every host.
type legacyHost struct {
	host string
	pr   pathRouter
}

func newLegacyHost(host string, pr pathRouter) legacyHost {
	return legacyHost{
		host: host,
		pr:   pr,
	}
}

func (h legacyHost) matchReq(host string, req *http.Request, v url.Values) (Match, bool) {
	var match Match

	if h.host != "" && h.host != host {
		return match, false
	}

	path := strings.TrimPrefix(req.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket == "" {
		return match, false
	}

	match.Bucket = bucket
	match.Key = key

	var ok bool
	match.Action, ok = h.pr.match(req, v, key)
	return match, ok
}

// bucketHost represents a request with the bucket in the host (virtual-hosted-style).
type bucketHost struct {
	suffix string
	pr     pathRouter
}

func newBucketHost(host string, pr pathRouter) bucketHost {
	return bucketHost{
		suffix: "." + host,
		pr:     pr,
	}
}

func (h bucketHost) matchReq(host string, req *http.Request, v url.Values) (Match, bool) {
	if len(h.suffix) >= len(host) {
		return Match{}, false
	}

	bucket, ok := strings.CutSuffix(host, h.suffix)
	if !ok {
		return Match{}, false
	}
	key := strings.TrimPrefix(req.URL.Path, "/")

	match := Match{Bucket: bucket, Key: key}
	match.Action, ok = h.pr.match(req, v, match.Key)
	return match, ok
}

type serviceRouter struct {
	host string // empty matches every host
	r    rootPathRouter
}

func (r serviceRouter) matchReq(host string, req *http.Request, v url.Values) (Match, bool) {
	if r.host != "" && r.host != host {
		return Match{}, false
	}
	return r.r.match(req, v)
}

func getHost(req *http.Request) string {
	host := req.Host
	if req.URL.IsAbs() {
		host = req.URL.Host
	}
	// Strip any port.
	host, _, _ = strings.Cut(host, ":")
	return host
}

type routes []route

type route struct {
	action s3action.Action
	conds  []condition
}

func (r route) matches(req *http.Request, v url.Values) bool {
	for _, cond := range r.conds {
		if !cond(req, v) {
			return false
		}
	}
	return true
}

type condition func(*http.Request, url.Values) bool

func queryExists(key string) condition {
	return func(r *http.Request, v url.Values) bool { return v.Has(key) }
}

func queryEquals(key, value string) condition {
	return func(r *http.Request, v url.Values) bool { return v.Get(key) == value }
}

func headerExists(key string) condition {
	key = http.CanonicalHeaderKey(key)
	return func(r *http.Request, v url.Values) bool {
		_, ok := r.Header[key]
		return ok
	}
}

func headerContains(key, val string) condition {
	key = http.CanonicalHeaderKey(key)
	return func(r *http.Request, _ url.Values) bool {
		return strings.Contains(r.Header.Get(key), val)
	}
}

type pathType uint8

const (
	bucketPath pathType = 0
	keyPath    pathType = 1
)

type pathRouter struct {
	bucketPath methodRouter
	keyPath    methodRouter
}

func (rc *pathRouter) add(method string, path pathType, action s3action.Action, conds ...condition) {
	if path == bucketPath {
		rc.bucketPath.add(method, action, conds...)
	} else {
		rc.keyPath.add(method, action, conds...)
	}
}

func (rc pathRouter) match(req *http.Request, v url.Values, key string) (s3action.Action, bool) {
	if key != "" {
		return rc.keyPath.match(req, v)
	}
	return rc.bucketPath.match(req, v)
}

type rootPathRouter struct {
	mr methodRouter
}

func (r rootPathRouter) match(req *http.Request, v url.Values) (Match, bool) {
	if req.URL.Path != "/" && req.URL.Path != "" {
		return Match{}, false
	}
	action, ok := r.mr.match(req, v)
	if !ok {
		return Match{}, false
	}
	return Match{Action: action}, true
}

type methodRouter struct {
	get    routes
	head   routes
	put    routes
	post   routes
	delete routes
}

func (r *methodRouter) add(method string, action s3action.Action, conds ...condition) {
	rte := route{action: action, conds: conds}
	switch method {
	case http.MethodGet:
		r.get = append(r.get, rte)
	case http.MethodHead:
		r.head = append(r.head, rte)
	case http.MethodPut:
		r.put = append(r.put, rte)
	case http.MethodPost:
		r.post = append(r.post, rte)
	case http.MethodDelete:
		r.delete = append(r.delete, rte)
	default:
		panic(fmt.Sprintf("adding unexpected method: %s", method))
	}
}

func (r methodRouter) match(req *http.Request, v url.Values) (s3action.Action, bool) {
	var rts routes
	switch req.Method {
	case http.MethodGet:
		rts = r.get
	case http.MethodHead:
		rts = r.head
	case http.MethodPut:
		rts = r.put
	case http.MethodPost:
		rts = r.post
	case http.MethodDelete:
		rts = r.delete
	}

	for _, rt := range rts {
		if rt.matches(req, v) {
			return rt.action, true
		}
	}
	return s3action.Unknown, false
}

func getUTF8String(s string) (string, error) {
	if utf8.ValidString(s) {
		return s, nil
	}
	return charmap.ISO8859_1.NewDecoder().String(s)
}

// routeDef defines a single route with its conditions
type routeDef struct {
	method string
	path   pathType
	action s3action.Action
	conds  []condition
}

// newPathRouter lists routes most specific first. Subresources the gateway
// does not implement are still routed so they are answered with
// NotImplemented instead of falling through to a plain bucket or object
// operation.
func newPathRouter() pathRouter {
	var pr pathRouter

	routes := []routeDef{
		// Browser uploads
		{http.MethodPost, bucketPath, s3action.PostObject, []condition{headerContains("Content-Type", "multipart/form-data")}},
		{http.MethodPost, keyPath, s3action.PostObject, []condition{headerContains("Content-Type", "multipart/form-data")}},

		// Bucket subresources
		{http.MethodDelete, bucketPath, s3action.DeleteBucketCors, []condition{queryExists("cors")}},
		{http.MethodDelete, bucketPath, s3action.DeleteBucketEncryption, []condition{queryExists("encryption")}},
		{http.MethodDelete, bucketPath, s3action.DeleteBucketLifecycle, []condition{queryExists("lifecycle")}},
		{http.MethodDelete, bucketPath, s3action.DeleteBucketPolicy, []condition{queryExists("policy")}},
		{http.MethodDelete, bucketPath, s3action.DeleteBucketReplication, []condition{queryExists("replication")}},
		{http.MethodDelete, bucketPath, s3action.DeleteBucketTagging, []condition{queryExists("tagging")}},
		{http.MethodPost, bucketPath, s3action.DeleteObjects, []condition{queryExists("delete")}},
		{http.MethodGet, bucketPath, s3action.GetBucketAcl, []condition{queryExists("acl")}},
		{http.MethodGet, bucketPath, s3action.GetBucketCors, []condition{queryExists("cors")}},
		{http.MethodGet, bucketPath, s3action.GetBucketEncryption, []condition{queryExists("encryption")}},
		{http.MethodGet, bucketPath, s3action.GetBucketLifecycleConfiguration, []condition{queryExists("lifecycle")}},
		{http.MethodGet, bucketPath, s3action.GetBucketLocation, []condition{queryExists("location")}},
		{http.MethodGet, bucketPath, s3action.GetBucketPolicy, []condition{queryExists("policy")}},
		{http.MethodGet, bucketPath, s3action.GetBucketReplication, []condition{queryExists("replication")}},
		{http.MethodGet, bucketPath, s3action.GetBucketTagging, []condition{queryExists("tagging")}},
		{http.MethodGet, bucketPath, s3action.GetBucketVersioning, []condition{queryExists("versioning")}},
		{http.MethodGet, bucketPath, s3action.ListMultipartUploads, []condition{queryExists("uploads")}},
		{http.MethodGet, bucketPath, s3action.ListObjectVersions, []condition{queryExists("versions")}},
		{http.MethodGet, bucketPath, s3action.ListObjectsV2, []condition{queryEquals("list-type", "2")}},
		{http.MethodPut, bucketPath, s3action.PutBucketAcl, []condition{queryExists("acl")}},
		{http.MethodPut, bucketPath, s3action.PutBucketCors, []condition{queryExists("cors")}},
		{http.MethodPut, bucketPath, s3action.PutBucketEncryption, []condition{queryExists("encryption")}},
		{http.MethodPut, bucketPath, s3action.PutBucketLifecycleConfiguration, []condition{queryExists("lifecycle")}},
		{http.MethodPut, bucketPath, s3action.PutBucketPolicy, []condition{queryExists("policy")}},
		{http.MethodPut, bucketPath, s3action.PutBucketReplication, []condition{queryExists("replication")}},
		{http.MethodPut, bucketPath, s3action.PutBucketTagging, []condition{queryExists("tagging")}},
		{http.MethodPut, bucketPath, s3action.PutBucketVersioning, []condition{queryExists("versioning")}},

		// Bucket operations - no params
		{http.MethodPut, bucketPath, s3action.CreateBucket, nil},
		{http.MethodDelete, bucketPath, s3action.DeleteBucket, nil},
		{http.MethodHead, bucketPath, s3action.HeadBucket, nil},
		{http.MethodGet, bucketPath, s3action.ListObjects, nil},

		// Object operations - query params
		{http.MethodDelete, keyPath, s3action.AbortMultipartUpload, []condition{queryExists("uploadId")}},
		{http.MethodDelete, keyPath, s3action.DeleteObjectTagging, []condition{queryExists("tagging")}},
		{http.MethodGet, keyPath, s3action.GetObjectAcl, []condition{queryExists("acl")}},
		{http.MethodGet, keyPath, s3action.GetObjectTagging, []condition{queryExists("tagging")}},
		{http.MethodGet, keyPath, s3action.ListParts, []condition{queryExists("uploadId")}},
		{http.MethodPost, keyPath, s3action.SelectObjectContent, []condition{queryExists("select")}},
		{http.MethodPost, keyPath, s3action.CompleteMultipartUpload, []condition{queryExists("uploadId")}},
		{http.MethodPost, keyPath, s3action.CreateMultipartUpload, []condition{queryExists("uploads")}},
		{http.MethodPost, keyPath, s3action.RestoreObject, []condition{queryExists("restore")}},
		{http.MethodPut, keyPath, s3action.UploadPartCopy, []condition{headerExists("x-amz-copy-source"), queryExists("partNumber"), queryExists("uploadId")}},
		{http.MethodPut, keyPath, s3action.UploadPart, []condition{queryExists("partNumber"), queryExists("uploadId")}},
		{http.MethodPut, keyPath, s3action.PutObjectAcl, []condition{queryExists("acl")}},
		{http.MethodPut, keyPath, s3action.PutObjectTagging, []condition{queryExists("tagging")}},
		{http.MethodPut, keyPath, s3action.CopyObject, []condition{headerExists("x-amz-copy-source")}},

		// Object operations - no params
		{http.MethodDelete, keyPath, s3action.DeleteObject, nil},
		{http.MethodGet, keyPath, s3action.GetObject, nil},
		{http.MethodHead, keyPath, s3action.HeadObject, nil},
		{http.MethodPut, keyPath, s3action.PutObject, nil},
	}

	for _, r := range routes {
		pr.add(r.method, r.path, r.action, r.conds...)
	}

	return pr
}

func newServiceRouter() rootPathRouter {
	var mr methodRouter

	mr.add(http.MethodGet, s3action.ListBuckets)

	return rootPathRouter{mr: mr}
}
