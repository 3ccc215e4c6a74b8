package blob

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NewS3MockForTests returns an S3 store whose HTTP transport is an in-memory
// fake of the subset of the S3 REST API the store uses. pageSize bounds
// ListObjectsV2 pages so pagination is exercised; 0 means 1000.
func NewS3MockForTests(pageSize int) *S3 {
	rt := &mockS3{objects: make(map[string]mockObject), pageSize: pageSize}
	s, err := NewS3(context.Background(), S3Config{
		Region:          "us-east-1",
		Bucket:          "mock-bucket",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: rt},
	})
	if err != nil {
		panic(err)
	}
	return s
}

type mockObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// mockS3 answers path-style requests: /<bucket>/<key>.
type mockS3 struct {
	mu       sync.Mutex
	objects  map[string]mockObject
	pageSize int
}

func mockResponse(status int, body []byte, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

func (m *mockS3) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := m.objects[key]
		if !ok {
			body := []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			if req.Method == http.MethodHead {
				body = nil
			}
			return mockResponse(http.StatusNotFound, body, http.Header{"Content-Type": {"application/xml"}}), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag-` + strconv.Itoa(len(obj.body)) + `"`},
			"Last-Modified":  {obj.modified.Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			h.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			resp := mockResponse(http.StatusOK, nil, h)
			resp.ContentLength = int64(len(obj.body))
			return resp, nil
		}
		return mockResponse(http.StatusOK, obj.body, h), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if body, err = decodeAWSChunked(body); err != nil {
				return mockResponse(http.StatusBadRequest, nil, nil), nil
			}
		}
		md := map[string]string{}
		const metaPrefix = "x-amz-meta-"
		for k, v := range req.Header {
			if lk := strings.ToLower(k); strings.HasPrefix(lk, metaPrefix) && len(v) > 0 {
				md[lk[len(metaPrefix):]] = v[0]
			}
		}
		m.objects[key] = mockObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			metadata:    md,
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		return mockResponse(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodDelete:
		delete(m.objects, key)
		return mockResponse(http.StatusNoContent, nil, nil), nil
	}
	return mockResponse(http.StatusNotImplemented, nil, nil), nil
}

type listContents struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	ETag         string `xml:"ETag"`
	LastModified string `xml:"LastModified"`
}

type listResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	IsTruncated           bool           `xml:"IsTruncated"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	KeyCount              int            `xml:"KeyCount"`
	Contents              []listContents `xml:"Contents"`
}

func (m *mockS3) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	after := q.Get("continuation-token")

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	page := m.pageSize
	if page <= 0 {
		page = 1000
	}
	var res listResult
	if len(keys) > page {
		keys = keys[:page]
		res.IsTruncated = true
		res.NextContinuationToken = keys[len(keys)-1]
	}
	for _, k := range keys {
		obj := m.objects[k]
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			Size:         len(obj.body),
			ETag:         `"etag"`,
			LastModified: obj.modified.Format(time.RFC3339),
		})
	}
	res.KeyCount = len(res.Contents)

	body, err := xml.Marshal(res)
	if err != nil {
		return mockResponse(http.StatusInternalServerError, nil, nil)
	}
	return mockResponse(http.StatusOK, append([]byte(xml.Header), body...), http.Header{"Content-Type": {"application/xml"}})
}

// decodeAWSChunked strips aws-chunked framing: <hex-size>[;ext]\r\n<data>\r\n
// repeated, ending with a zero-size chunk and optional trailers.
func decodeAWSChunked(b []byte) ([]byte, error) {
	var out []byte
	for {
		i := bytes.Index(b, []byte("\r\n"))
		if i < 0 {
			return nil, fmt.Errorf("malformed chunk header")
		}
		head := string(b[:i])
		if j := strings.IndexByte(head, ';'); j >= 0 {
			head = head[:j]
		}
		n, err := strconv.ParseInt(strings.TrimSpace(head), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed chunk size %q", head)
		}
		b = b[i+2:]
		if n == 0 {
			return out, nil
		}
		if int64(len(b)) < n+2 {
			return nil, fmt.Errorf("short chunk")
		}
		out = append(out, b[:n]...)
		b = b[n+2:]
	}
}
