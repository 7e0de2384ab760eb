package utils

import (
	"net/http"
	"net/url"
	"time"
)

const ToolUserAgent = "Vodgrab-CLI"

type HTTPClientConfig struct {
	Timeout   time.Duration
	KATimeout time.Duration
	ProxyURL  string
	UserAgent string
	Headers   map[string]string // credential header set, sent unchanged on every request
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
	SetHeader(key, value string)
}

type VodgrabHTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewVodgrabHTTPClient(cfg HTTPClientConfig) *VodgrabHTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true,
	}
	if cfg.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &VodgrabHTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

func (v *VodgrabHTTPClient) SetHeader(key, value string) {
	v.config.Headers[key] = value
}

func (v *VodgrabHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if v.config.UserAgent != "" {
		req.Header.Set("User-Agent", v.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, val := range v.config.Headers {
		req.Header.Set(k, val)
	}
	return v.client.Do(req)
}
