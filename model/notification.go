package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yksanjo/mcp-performance-monitor/pkg/utils"
)

const (
	WebhookRequestTypeJSON = "json"
	WebhookRequestTypeForm = "form"
)

// WebhookConfig 告警回调，URL 与请求体中的占位符在发送时替换
type WebhookConfig struct {
	Name          string `mapstructure:"name"`
	URL           string `mapstructure:"url"`
	RequestMethod string `mapstructure:"request_method"`
	RequestType   string `mapstructure:"request_type"`
	RequestHeader string `mapstructure:"request_header"`
	RequestBody   string `mapstructure:"request_body"`
	VerifySSL     *bool  `mapstructure:"verify_ssl"`
}

func (w *WebhookConfig) Validate() error {
	if w.URL == "" {
		return errors.New("url is required")
	}
	if _, err := w.reqMethod(); err != nil {
		return err
	}
	switch w.RequestType {
	case "", WebhookRequestTypeJSON, WebhookRequestTypeForm:
	default:
		return fmt.Errorf("unsupported request type %q", w.RequestType)
	}
	return nil
}

func (w *WebhookConfig) reqMethod() (string, error) {
	switch strings.ToUpper(w.RequestMethod) {
	case "", http.MethodPost:
		return http.MethodPost, nil
	case http.MethodGet:
		return http.MethodGet, nil
	}
	return "", fmt.Errorf("unsupported request method %q", w.RequestMethod)
}

// WebhookBundle pairs a webhook with the signal it is about to deliver.
type WebhookBundle struct {
	Webhook *WebhookConfig
	Signal  *AlertSignal
	Loc     *time.Location
}

func (wb *WebhookBundle) reqURL() string {
	return wb.replaceParamsInString(wb.Webhook.URL, func(msg string) string {
		return url.QueryEscape(msg)
	})
}

func (wb *WebhookBundle) reqBody() (string, error) {
	w := wb.Webhook
	method, err := w.reqMethod()
	if err != nil {
		return "", err
	}
	if method == http.MethodGet {
		return "", nil
	}
	switch w.RequestType {
	case WebhookRequestTypeForm:
		data, err := utils.GjsonParseStringMap(w.RequestBody)
		if err != nil {
			return "", err
		}
		params := url.Values{}
		for k, v := range data {
			params.Add(k, wb.replaceParamsInString(v, nil))
		}
		return params.Encode(), nil
	default:
		if w.RequestBody == "" {
			// 未配置模板时直接发送告警本身
			body, err := utils.Json.Marshal(wb.Signal)
			return string(body), err
		}
		return wb.replaceParamsInString(w.RequestBody, func(msg string) string {
			msgBytes, _ := utils.Json.Marshal(msg)
			return string(msgBytes)[1 : len(msgBytes)-1]
		}), nil
	}
}

func (wb *WebhookBundle) setContentType(req *http.Request) {
	if req.Method == http.MethodGet {
		return
	}
	if wb.Webhook.RequestType == WebhookRequestTypeForm {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
}

func (wb *WebhookBundle) setRequestHeader(req *http.Request) error {
	if wb.Webhook.RequestHeader == "" {
		return nil
	}
	m, err := utils.GjsonParseStringMap(wb.Webhook.RequestHeader)
	if err != nil {
		return err
	}
	for k, v := range m {
		req.Header.Set(k, v)
	}
	return nil
}

func (wb *WebhookBundle) Send(ctx context.Context) error {
	client := utils.HttpClient
	if wb.Webhook.VerifySSL != nil && !*wb.Webhook.VerifySSL {
		client = utils.HttpClientSkipTlsVerify
	}

	reqBody, err := wb.reqBody()
	if err != nil {
		return err
	}
	reqMethod, err := wb.Webhook.reqMethod()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, reqMethod, wb.reqURL(), strings.NewReader(reqBody))
	if err != nil {
		return err
	}
	wb.setContentType(req)
	if err := wb.setRequestHeader(req); err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%d@%s %s", resp.StatusCode, resp.Status, string(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// replaceParamsInString 替换字符串中的占位符
func (wb *WebhookBundle) replaceParamsInString(str string, mod func(string) string) string {
	if mod == nil {
		mod = func(s string) string {
			return s
		}
	}
	loc := wb.Loc
	if loc == nil {
		loc = time.UTC
	}
	s := wb.Signal

	str = strings.ReplaceAll(str, "#MCPMON#", mod(s.Message))
	str = strings.ReplaceAll(str, "#DATETIME#", mod(s.At.In(loc).String()))
	str = strings.ReplaceAll(str, "#ALERT.ID#", mod(s.ID))
	str = strings.ReplaceAll(str, "#ALERT.KIND#", mod(string(s.Kind)))
	str = strings.ReplaceAll(str, "#ALERT.SERVER#", mod(s.ServerName))
	str = strings.ReplaceAll(str, "#ALERT.OPERATION#", mod(s.Operation))
	str = strings.ReplaceAll(str, "#ALERT.VALUE#", mod(fmt.Sprintf("%g", s.Value)))
	str = strings.ReplaceAll(str, "#ALERT.THRESHOLD#", mod(fmt.Sprintf("%g", s.Threshold)))
	return str
}
