package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"

	"github.com/aws/aws-lambda-go/events"

	"github.com/nadzzz/voicedesk/internal/transport"
	httptransport "github.com/nadzzz/voicedesk/internal/transport/http"
)

var jsonHeaders = map[string]string{
	"Content-Type":                 "application/json",
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	"Access-Control-Allow-Headers": "Content-Type, Authorization, " + httptransport.HeaderDID + ", " + httptransport.HeaderSession,
}

type handler struct {
	handle transport.Handler
	routes http.Handler
	flush  func()
}

// newHandler wraps the pipeline. flush runs before every invocation returns.
func newHandler(handle transport.Handler, t *httptransport.Transport, flush func()) *handler {
	if flush == nil {
		flush = func() {}
	}
	return &handler{handle: handle, routes: t.Routes(handle), flush: flush}
}

// Invoke is the Lambda entry point.
func (h *handler) Invoke(ctx context.Context, raw json.RawMessage) (any, error) {
	defer h.flush()

	if req, ok := asProxyRequest(raw); ok {
		return h.serveProxy(ctx, req)
	}

	resp := h.handle(ctx, raw)
	if resp.Connect != nil {
		return resp.Connect, nil
	}
	body, err := json.Marshal(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("encoding response: %w", err)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: resp.StatusCode,
		Headers:    jsonHeaders,
		Body:       string(body),
	}, nil
}

// asProxyRequest reports whether raw is an API Gateway proxy event.
func asProxyRequest(raw json.RawMessage) (events.APIGatewayProxyRequest, bool) {
	var req events.APIGatewayProxyRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.HTTPMethod == "" {
		return req, false
	}
	return req, true
}

func (h *handler) serveProxy(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if req.HTTPMethod == http.MethodOptions {
		return events.APIGatewayProxyResponse{StatusCode: http.StatusOK, Headers: jsonHeaders}, nil
	}

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errorResponse(http.StatusBadRequest, "body is not valid base64"), nil
		}
		body = decoded
	}

	u := url.URL{Path: req.Path}
	q := url.Values{}
	for k, v := range req.QueryStringParameters {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	r, err := http.NewRequestWithContext(ctx, req.HTTPMethod, u.String(), bytes.NewReader(body))
	if err != nil {
		return errorResponse(http.StatusBadRequest, err.Error()), nil
	}
	for k, v := range req.Headers {
		r.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	h.routes.ServeHTTP(rec, r)

	headers := make(map[string]string, len(jsonHeaders)+1)
	for k, v := range jsonHeaders {
		headers[k] = v
	}
	if ct := rec.Header().Get("Content-Type"); ct != "" {
		headers["Content-Type"] = ct
	}
	return events.APIGatewayProxyResponse{
		StatusCode: rec.Code,
		Headers:    headers,
		Body:       rec.Body.String(),
	}, nil
}

func errorResponse(status int, msg string) events.APIGatewayProxyResponse {
	body, _ := json.Marshal(map[string]string{"error": msg})
	return events.APIGatewayProxyResponse{StatusCode: status, Headers: jsonHeaders, Body: string(body)}
}
