package provisioner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// ErrUnavailable 远程 API 不可用（未配置令牌、未授权、网络错误或熔断）
	ErrUnavailable = errors.New("remote provisioning unavailable")
	// ErrInvalidEntityID 实体ID不是 domain.object_id 形式
	ErrInvalidEntityID = errors.New("invalid entity id")
	// ErrAlreadyExists API 报告实体已存在
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrUnsupportedDomain 该域的实体不通过 API 创建
	ErrUnsupportedDomain = errors.New("unsupported entity domain")
)

// SupportedDomain 可通过 API 创建的实体域
const SupportedDomain = "sensor"

// StateRequest POST /states/{entity_id} 请求体
type StateRequest struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// Client Home Assistant REST API 客户端
type Client struct {
	httpClient *resty.Client
	token      string
	breaker    *gobreaker.CircuitBreaker[*resty.Response]
	logger     *zap.Logger
}

// Option 客户端选项
type Option func(*options)

type options struct {
	timeout      time.Duration
	retryCount   int
	retryWait    time.Duration
	breakerOpen  time.Duration
	tripFailures uint32
}

// WithTimeout 单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry 网络错误时的重试次数和间隔
func WithRetry(count int, wait time.Duration) Option {
	return func(o *options) {
		o.retryCount = count
		o.retryWait = wait
	}
}

// WithBreaker 连续失败多少次后熔断，以及熔断持续时间
func WithBreaker(failures uint32, open time.Duration) Option {
	return func(o *options) {
		o.tripFailures = failures
		o.breakerOpen = open
	}
}

// NewClient 创建 Home Assistant 客户端
// token 为空时所有调用返回 ErrUnavailable
func NewClient(baseURL, token string, logger *zap.Logger, opts ...Option) *Client {
	o := options{
		timeout:      10 * time.Second,
		retryCount:   2,
		retryWait:    500 * time.Millisecond,
		breakerOpen:  60 * time.Second,
		tripFailures: 3,
	}
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(o.timeout).
		SetRetryCount(o.retryCount).
		SetRetryWaitTime(o.retryWait).
		SetRetryMaxWaitTime(4 * o.retryWait).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		httpClient.SetAuthToken(token)
	}

	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "homeassistant-api",
		MaxRequests: 1,
		Timeout:     o.breakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= o.tripFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		httpClient: httpClient,
		token:      token,
		breaker:    breaker,
		logger:     logger,
	}
}

// SplitEntityID 拆分 domain.object_id
func SplitEntityID(entityID string) (domain, objectID string, err error) {
	parts := strings.Split(entityID, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return parts[0], parts[1], nil
}

// DisplayName 由 object_id 生成友好名称：下划线替换为空格并按单词首字母大写
func DisplayName(objectID string) string {
	return cases.Title(language.Und).String(strings.ReplaceAll(objectID, "_", " "))
}

// Provision 通过 API 创建实体
// 先 GET 探测，实体已存在时返回 ErrAlreadyExists；否则 POST 初始状态 "unknown"
func (c *Client) Provision(ctx context.Context, entityID string, attributes map[string]any) error {
	if c.token == "" {
		return fmt.Errorf("%w: no API token configured", ErrUnavailable)
	}

	domain, objectID, err := SplitEntityID(entityID)
	if err != nil {
		return err
	}
	if domain != SupportedDomain {
		return fmt.Errorf("%w: %s", ErrUnsupportedDomain, domain)
	}

	attrs := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	if _, ok := attrs["friendly_name"]; !ok {
		attrs["friendly_name"] = DisplayName(objectID)
	}

	path := "/states/" + url.PathEscape(entityID)

	resp, err := c.do(func() (*resty.Response, error) {
		return c.httpClient.R().SetContext(ctx).Get(path)
	})
	if err != nil {
		// 探测失败不影响后续创建
		c.logger.Warn("Failed to check entity via API", zap.String("entity_id", entityID), zap.Error(err))
	} else if resp.StatusCode() == http.StatusOK {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, entityID)
	}

	resp, err = c.do(func() (*resty.Response, error) {
		return c.httpClient.R().
			SetContext(ctx).
			SetBody(StateRequest{State: "unknown", Attributes: attrs}).
			Post(path)
	})
	if err != nil {
		return err
	}

	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		c.logger.Info("Created entity via API", zap.String("entity_id", entityID))
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: unauthorized (%d)", ErrUnavailable, resp.StatusCode())
	default:
		return fmt.Errorf("%w: create returned %d: %s", ErrUnavailable, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
}

// do 通过熔断器执行请求，网络错误和 5xx 计为失败
func (c *Client) do(fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := c.breaker.Execute(func() (*resty.Response, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, fmt.Errorf("server error %d", resp.StatusCode())
		}
		return resp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}
