package facade

import (
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/webgate/webgate/internal/gateway"
)

func arity(args []any, want int) error {
	if len(args) != want {
		return fmt.Errorf("%w: want %d arguments, got %d", ErrBadArguments, want, len(args))
	}
	return nil
}

func badArgument(index int, want string, got any) error {
	return fmt.Errorf("%w: argument %d must be %s, got %T", ErrBadArguments, index, want, got)
}

func stringArg(args []any, index int) (string, error) {
	value, ok := args[index].(string)
	if !ok {
		return "", badArgument(index, "string", args[index])
	}
	return value, nil
}

func fiberHandlerArg(arg any) (fiber.Handler, error) {
	h, ok := arg.(fiber.Handler)
	if !ok || h == nil {
		return nil, badArgument(2, "fiber.Handler", arg)
	}
	return h, nil
}

func subApplicationArg(arg any) (gateway.SubApplication, error) {
	switch sub := arg.(type) {
	case gateway.SubApplication:
		return sub, nil
	case *gateway.SubApplication:
		if sub != nil {
			return *sub, nil
		}
	}
	return gateway.SubApplication{}, badArgument(0, "gateway.SubApplication", arg)
}
