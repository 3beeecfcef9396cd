package dto

import (
	"fmt"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/rbac"
)

var registerOnce sync.Once

// RegisterValidators adds the request rules gin's default validator does not
// know about:
//
//	permission  a resource:action pattern
//	event_kind  a known event kind or "*"
func RegisterValidators() error {
	var err error
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		if err = v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
			return rbac.Valid(fl.Field().String())
		}); err != nil {
			return
		}
		err = v.RegisterValidation("event_kind", func(fl validator.FieldLevel) bool {
			return domain.ValidSubscriptionKind(fl.Field().String())
		})
	})
	return err
}
