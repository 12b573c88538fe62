package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/property-predictor/offline-cache/internal/cache"
	"github.com/property-predictor/offline-cache/internal/fetch"
	"github.com/property-predictor/offline-cache/internal/logging"
	"github.com/property-predictor/offline-cache/internal/server"
	"github.com/property-predictor/offline-cache/internal/worker"
)

// SourceHeader 告知调用方响应来自缓存、网络、兜底还是直通。
const SourceHeader = "X-Offline-Cache"

// Dispatcher 按客户端把请求交给对应的 worker 版本。
type Dispatcher interface {
	Fetch(ctx context.Context, clientID string, req *http.Request) (worker.FetchResult, error)
}

// Handler 把每个页面请求作为一次 fetch 事件交给宿主，并把结果写回浏览器。
type Handler struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

// NewHandler constructs a proxy handler around the host dispatcher.
func NewHandler(dispatcher Dispatcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}
}

// Handle 实现 server.ProxyHandler。被拦截的请求总能得到响应；直通请求回源失败时返回 502。
func (h *Handler) Handle(c fiber.Ctx) (err error) {
	started := time.Now()
	requestID := server.RequestID(c)
	clientID := server.ClientID(c)

	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(logrus.Fields{
				"action":     "proxy",
				"request_id": requestID,
				"panic":      fmt.Sprint(r),
			}).Error("proxy_panic")
			err = h.writeError(c, fiber.StatusInternalServerError, "proxy_panic")
		}
	}()

	req, err := buildRequest(c)
	if err != nil {
		h.logResult(c, clientID, requestID, "", fiber.StatusBadRequest, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	result, err := h.dispatcher.Fetch(req.Context(), clientID, req)
	if err != nil || result.Response == nil {
		if err == nil {
			err = errors.New("empty response")
		}
		h.logResult(c, clientID, requestID, string(result.Source), fiber.StatusBadGateway, started, err)
		c.Set(SourceHeader, string(worker.SourcePassthrough))
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	h.logResult(c, clientID, requestID, string(result.Source), result.Response.Status, started, result.NetworkErr)
	return writeResponse(c, result)
}

// buildRequest 把 fasthttp 请求转换为 net/http 请求，URL 保持站内相对形式。
// 转换结果引用 fasthttp 的可复用缓冲区，而缓存 key 会在请求结束后继续保留，因此字符串需要复制。
func buildRequest(c fiber.Ctx) (*http.Request, error) {
	req := new(http.Request)
	if err := fasthttpadaptor.ConvertRequest(c.RequestCtx(), req, true); err != nil {
		return nil, err
	}
	req.Method = strings.Clone(req.Method)
	req.Host = strings.Clone(req.Host)
	req.RequestURI = strings.Clone(req.RequestURI)
	parsed, err := url.ParseRequestURI(req.RequestURI)
	if err != nil {
		return nil, err
	}
	req.URL = parsed
	header := make(http.Header, len(req.Header))
	for key, values := range req.Header {
		cloned := make([]string, len(values))
		for i, v := range values {
			cloned[i] = strings.Clone(v)
		}
		header[strings.Clone(key)] = cloned
	}
	req.Header = header

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return req.WithContext(ctx), nil
}

func writeResponse(c fiber.Ctx, result worker.FetchResult) error {
	resp := result.Response
	header := &c.Response().Header
	for key, values := range resp.Header {
		if fetch.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		if http.CanonicalHeaderKey(key) != fiber.HeaderSetCookie {
			header.Del(key)
		}
		for _, value := range values {
			header.Add(key, value)
		}
	}
	c.Set(SourceHeader, string(result.Source))
	if result.Bypass != worker.BypassNone {
		c.Set(SourceHeader+"-Bypass", string(result.Bypass))
	}
	if resp.Type == cache.ResponseTypeSynthetic {
		c.Set(fiber.HeaderCacheControl, "no-store")
	}
	c.Status(resp.Status)
	return c.Send(resp.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(c fiber.Ctx, clientID, requestID, source string, status int, started time.Time, err error) {
	fields := logging.RequestFields(c.Method(), string(c.Request().URI().RequestURI()), clientID, source, status)
	fields["action"] = "proxy"
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if source == string(worker.SourceFallback) {
			h.logger.WithFields(fields).Warn("proxy_offline_fallback")
			return
		}
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}
