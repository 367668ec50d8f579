package devconfig

import (
	"errors"
	"fmt"
	"net"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Pin numbering limits for the board header.
const (
	MinPin = 0
	MaxPin = 39
)

// reservedPins are wired to on-board flash and must never be driven.
var reservedPins = map[int]bool{6: true, 7: true, 8: true, 9: true, 10: true, 11: true}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	configValidate.RegisterTagNameFunc(jsonFieldName)
	_ = configValidate.RegisterValidation("pin", validatePin)
	configValidate.RegisterStructValidation(validateStaticNetwork, Config{})
}

// jsonFieldName reports fields by their persisted key.
func jsonFieldName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// validatePin accepts a pin number inside the header range that is not
// reserved.
func validatePin(fl validator.FieldLevel) bool {
	pin := int(fl.Field().Int())
	return pin >= MinPin && pin <= MaxPin && !reservedPins[pin]
}

// validateStaticNetwork requires IPv4 address, gateway and subnet when DHCP
// is off.
func validateStaticNetwork(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	if cfg.UseDHCP {
		return
	}
	for _, f := range []struct {
		value, field, name string
	}{
		{cfg.IPAddress, "IPAddress", "ip_address"},
		{cfg.Gateway, "Gateway", "gateway"},
		{cfg.Subnet, "Subnet", "subnet"},
	} {
		if ip := net.ParseIP(f.value); ip == nil || ip.To4() == nil {
			sl.ReportError(f.value, f.name, f.field, "static_ipv4", "")
		}
	}
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Validate checks every invariant of cfg. The returned error wraps
// ErrInvalid and names each offending field.
func Validate(cfg Config) error {
	err := configValidate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(fields, ", "))
}
