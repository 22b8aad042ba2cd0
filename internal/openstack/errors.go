package openstack

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
)

var (
	// ErrNotFound reports a resource the provider does not know about.
	ErrNotFound = errors.New("cloud resource not found")
	// ErrServiceUnavailable reports an unreachable or overloaded provider endpoint.
	ErrServiceUnavailable = errors.New("cloud service unavailable")
	// ErrProvider wraps any other provider failure.
	ErrProvider = errors.New("cloud provider error")
	// ErrVolumeNotAvailable is returned when deleting a volume that is attached or busy.
	ErrVolumeNotAvailable = errors.New("volume can only be deleted when available")
)

// mapError converts SDK failures into package sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrProvider):
		return err
	case gophercloud.ResponseCodeIs(err, http.StatusNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case gophercloud.ResponseCodeIs(err, http.StatusServiceUnavailable),
		gophercloud.ResponseCodeIs(err, http.StatusBadGateway),
		gophercloud.ResponseCodeIs(err, http.StatusGatewayTimeout):
		return fmt.Errorf("%s: %w", op, ErrServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, ErrServiceUnavailable)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w", op, ErrServiceUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrProvider, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
