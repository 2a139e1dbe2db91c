package graphql

import (
	"fmt"

	"github.com/99designs/gqlgen/graphql/introspection"
)

func (ec *executionContext) introspectSchema() (*introspection.Schema, error) {
	if ec.DisableIntrospection {
		return nil, errIntrospection
	}
	return introspection.WrapSchema(parsedSchema), nil
}

func (ec *executionContext) introspectType(name string) (*introspection.Type, error) {
	if ec.DisableIntrospection {
		return nil, errIntrospection
	}
	return introspection.WrapTypeFromDef(parsedSchema, parsedSchema.Types[name]), nil
}

// introspect разрешает поля типов __Schema, __Type, __Field, __InputValue,
// __EnumValue и __Directive. Элементы списков приходят значениями, одиночные
// объекты указателями.
func (ec *executionContext) introspect(typeName, field string, a arguments, obj any) (any, error) {
	switch typeName {
	case "__Schema":
		s := obj.(*introspection.Schema)
		switch field {
		case "description":
			return s.Description(), nil
		case "types":
			return s.Types(), nil
		case "queryType":
			return s.QueryType(), nil
		case "mutationType":
			return s.MutationType(), nil
		case "subscriptionType":
			return s.SubscriptionType(), nil
		case "directives":
			return s.Directives(), nil
		}
	case "__Type":
		t := ref[introspection.Type](obj)
		switch field {
		case "kind":
			return t.Kind(), nil
		case "name":
			return t.Name(), nil
		case "description":
			return t.Description(), nil
		case "specifiedByURL":
			return t.SpecifiedByURL(), nil
		case "fields":
			return t.Fields(a.boolean("includeDeprecated")), nil
		case "interfaces":
			return t.Interfaces(), nil
		case "possibleTypes":
			return t.PossibleTypes(), nil
		case "enumValues":
			return t.EnumValues(a.boolean("includeDeprecated")), nil
		case "inputFields":
			return t.InputFields(), nil
		case "ofType":
			return t.OfType(), nil
		case "isOneOf":
			return t.IsOneOf(), nil
		}
	case "__Field":
		f := ref[introspection.Field](obj)
		switch field {
		case "name":
			return f.Name, nil
		case "description":
			return f.Description(), nil
		case "args":
			return orEmpty(f.Args), nil
		case "type":
			return f.Type, nil
		case "isDeprecated":
			return f.IsDeprecated(), nil
		case "deprecationReason":
			return f.DeprecationReason(), nil
		}
	case "__InputValue":
		v := ref[introspection.InputValue](obj)
		switch field {
		case "name":
			return v.Name, nil
		case "description":
			return v.Description(), nil
		case "type":
			return v.Type, nil
		case "defaultValue":
			return v.DefaultValue, nil
		case "isDeprecated":
			return v.IsDeprecated(), nil
		case "deprecationReason":
			return v.DeprecationReason(), nil
		}
	case "__EnumValue":
		v := ref[introspection.EnumValue](obj)
		switch field {
		case "name":
			return v.Name, nil
		case "description":
			return v.Description(), nil
		case "isDeprecated":
			return v.IsDeprecated(), nil
		case "deprecationReason":
			return v.DeprecationReason(), nil
		}
	case "__Directive":
		d := ref[introspection.Directive](obj)
		switch field {
		case "name":
			return d.Name, nil
		case "description":
			return d.Description(), nil
		case "locations":
			return orEmpty(d.Locations), nil
		case "args":
			return orEmpty(d.Args), nil
		case "isRepeatable":
			return d.IsRepeatable, nil
		}
	}
	return nil, fmt.Errorf("field %s.%s is not implemented", typeName, field)
}

func ref[T any](obj any) *T {
	if v, ok := obj.(T); ok {
		return &v
	}
	return obj.(*T)
}

// orEmpty не дает nil срезу стать null там, где список обязателен
func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
