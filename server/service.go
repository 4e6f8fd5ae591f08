package server

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	"github.com/nuclio/errors"
)

// MethodFunc implements one facade method. params are the positional arguments exactly
// as received; the returned value becomes the "result" member.
type MethodFunc func(ctx context.Context, params []json.RawMessage) (any, error)

var methodFuncType = reflect.TypeOf(MethodFunc(nil))

type service struct {
	name    string
	methods map[string]MethodFunc
}

// newService scans the exported methods of rcvr for the MethodFunc shape and exposes
// each under its lower camel case name (MakeToast → makeToast)
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("Receiver must be a pointer to a struct, got %T", rcvr)
	}

	value := reflect.ValueOf(rcvr)
	svc := &service{
		name:    typ.Elem().Name(),
		methods: map[string]MethodFunc{},
	}

	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		bound := value.Method(i)

		if !bound.Type().ConvertibleTo(methodFuncType) {
			continue
		}

		svc.methods[rpcName(method.Name)] = bound.Convert(methodFuncType).Interface().(MethodFunc)
	}

	if len(svc.methods) == 0 {
		return nil, errors.Errorf("%s has no methods of the form func(context.Context, []json.RawMessage) (any, error)", svc.name)
	}

	return svc, nil
}

func (s *service) names() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func rpcName(name string) string {
	first, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(first)) + name[size:]
}
