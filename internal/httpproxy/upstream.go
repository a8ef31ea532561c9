/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpproxy

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/wire"
)

// Upstream forwards a fingerprint.Request to a real backend over HTTP(S),
// implementing proxy.Upstream. TLS verification is skipped, matching the
// teacher's own self-signed-test-upstream proxying.
type Upstream struct {
	client       *http.Client
	baseURL      string
	replacements []config.HeaderReplacement
	limits       config.LimitsConfig
}

// NewUpstream builds an Upstream that forwards to cfg.TargetHost:TargetPort
// using cfg.TargetType as the scheme (defaulting to https), rejecting
// upstream responses larger than limits.MaxResponseSize.
func NewUpstream(cfg config.EndpointConfig, limits config.LimitsConfig) *Upstream {
	scheme := cfg.TargetType
	if scheme == "" {
		scheme = "https"
	}
	return &Upstream{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		},
		baseURL:      fmt.Sprintf("%s://%s:%d", scheme, cfg.TargetHost, cfg.TargetPort),
		replacements: cfg.ResponseHeaderReplacements,
		limits:       effectiveLimits(limits),
	}
}

// Forward implements proxy.Upstream.
func (u *Upstream) Forward(req fingerprint.Request) (wire.Response, error) {
	target := u.baseURL + req.Path
	if len(req.Query) > 0 {
		values := url.Values{}
		for _, q := range req.Query {
			values.Add(q.Key, q.Value)
		}
		target += "?" + values.Encode()
	}

	httpReq, err := http.NewRequest(req.Method, target, bytes.NewReader(req.Body))
	if err != nil {
		return wire.Response{}, fmt.Errorf("httpproxy: building upstream request: %w", err)
	}
	for _, h := range req.Headers {
		httpReq.Header.Add(h.Key, h.Value)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return wire.Response{}, fmt.Errorf("httpproxy: upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	u.applyResponseHeaderReplacements(resp.Header)

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(u.limits.MaxResponseSize)+1))
	if err != nil {
		return wire.Response{}, fmt.Errorf("httpproxy: reading upstream response: %w", err)
	}
	if len(body) > u.limits.MaxResponseSize {
		return wire.Response{}, &ouerr.DataTooLarge{Size: len(body), Limit: u.limits.MaxResponseSize}
	}

	return wire.Response{
		Status:  uint16(resp.StatusCode),
		Headers: headersToPairs(resp.Header),
		Body:    body,
	}, nil
}

// applyResponseHeaderReplacements rewrites header values in place per the
// endpoint's configured response_header_replacements.
func (u *Upstream) applyResponseHeaderReplacements(headers http.Header) {
	for _, replacement := range u.replacements {
		values, ok := headers[replacement.Header]
		if !ok {
			continue
		}
		re := regexp.MustCompile(replacement.Regex)
		for i, value := range values {
			headers[replacement.Header][i] = re.ReplaceAllString(value, replacement.Replace)
		}
	}
}
