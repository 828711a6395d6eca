package gateway

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
)

// Params 是路径参数，键为路由中声明的参数名。
type Params map[string]string

// Query 是查询字符串参数，同名参数取最后一个值。
type Query map[string]string

// NoBodyHandler 用于 GET/HEAD/OPTIONS。
type NoBodyHandler func(reply fiber.Ctx, params Params, query Query, req *fasthttp.Request) error

// BodyHandler 用于 POST/PUT/PATCH/DELETE/ALL，body 为已解析的请求体。
type BodyHandler func(reply fiber.Ctx, params Params, query Query, body any, req *fasthttp.Request) error

// RouteOptions 是 GetCustom 的附加选项。
type RouteOptions struct {
	Name       string
	Middleware []fiber.Handler
}

// SubApplication 是一组以 Prefix 为前缀挂载的路由。
type SubApplication struct {
	Name     string
	Prefix   string
	Register func(router fiber.Router) error
}

func adaptNoBody(handler NoBodyHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		return handler(c, paramsOf(c), c.Queries(), c.Request())
	}
}

func adaptBody(handler BodyHandler) fiber.Handler {
	return func(c fiber.Ctx) error {
		body, err := parseBody(c)
		if err != nil {
			return err
		}
		return handler(c, paramsOf(c), c.Queries(), body, c.Request())
	}
}

func paramsOf(c fiber.Ctx) Params {
	route := c.Route()
	params := make(Params, len(route.Params))
	for _, name := range route.Params {
		params[name] = c.Params(name)
	}
	return params
}

// parseBody 按 Content-Type 解析请求体：JSON 得到任意值，表单得到 map[string]string，
// 其他类型返回原始字节；空请求体返回 nil。
func parseBody(c fiber.Ctx) (any, error) {
	raw := c.Body()
	if len(raw) == 0 {
		return nil, nil
	}

	mediaType, _, err := mime.ParseMediaType(string(c.Request().Header.ContentType()))
	if err != nil {
		mediaType = ""
	}

	switch {
	case mediaType == fiber.MIMEApplicationJSON || strings.HasSuffix(mediaType, "+json"):
		var value any
		if err := c.App().Config().JSONDecoder(raw, &value); err != nil {
			return nil, fmt.Errorf("decode JSON body: %w", err)
		}
		return value, nil
	case mediaType == fiber.MIMEApplicationForm:
		form := make(map[string]string)
		for key, value := range c.Request().PostArgs().All() {
			form[string(key)] = string(value)
		}
		return form, nil
	case mediaType == fiber.MIMEMultipartForm:
		mf, err := c.Request().MultipartForm()
		if err != nil {
			return nil, fmt.Errorf("parse multipart body: %w", err)
		}
		form := make(map[string]string, len(mf.Value))
		for key, values := range mf.Value {
			if len(values) > 0 {
				form[key] = values[len(values)-1]
			}
		}
		return form, nil
	default:
		body := make([]byte, len(raw))
		copy(body, raw)
		return body, nil
	}
}
