package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

var (
	HttpClientSkipTlsVerify *http.Client
	HttpClient              *http.Client
)

func init() {
	HttpClientSkipTlsVerify = httpClient(httpTransport(true))
	HttpClient = httpClient(httpTransport(false))
}

func httpTransport(skipVerify bool) *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: skipVerify},
		Proxy:           http.ProxyFromEnvironment,
	}
}

// 告警回调不应拖住巡检任务
func httpClient(transport *http.Transport) *http.Client {
	return &http.Client{
		Transport: transport,
		Timeout:   time.Second * 15,
	}
}
