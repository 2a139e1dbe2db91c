package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var sourceData string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceData})

var jsonNull = json.RawMessage("null")

var errIntrospection = errors.New("introspection disabled")

type Config struct {
	Resolvers ResolverRoot
}

// NewExecutableSchema связывает схему с резолверами. Ограничения сложности нет,
// поэтому схема отвечает только на Schema и Exec. Интроспекция работает, если
// обработчик включил extension.Introspection.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	es := &executableSchema{resolvers: cfg.Resolvers}
	return &graphql.ExecutableSchemaMock{
		SchemaFunc: func() *ast.Schema { return parsedSchema },
		ExecFunc:   es.Exec,
	}
}

type executableSchema struct {
	resolvers ResolverRoot
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)
	ec := &executionContext{OperationContext: opCtx, resolvers: e.resolvers}
	op := opCtx.Operation

	switch op.Operation {
	case ast.Query:
		return once(func(ctx context.Context) *graphql.Response {
			return ec.root(ctx, "Query", op.SelectionSet)
		})
	case ast.Mutation:
		return once(func(ctx context.Context) *graphql.Response {
			return ec.root(ctx, "Mutation", op.SelectionSet)
		})
	case ast.Subscription:
		return ec.subscribe(ctx, op.SelectionSet)
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

// once отвечает только на первый вызов, транспорт вызывает обработчик до получения nil
func once(fn func(ctx context.Context) *graphql.Response) graphql.ResponseHandler {
	first := true
	return func(ctx context.Context) *graphql.Response {
		if !first {
			return nil
		}
		first = false
		return fn(ctx)
	}
}

type executionContext struct {
	*graphql.OperationContext
	resolvers ResolverRoot
}

func (ec *executionContext) root(ctx context.Context, typeName string, sel ast.SelectionSet) *graphql.Response {
	data, ok := ec.object(ctx, nil, typeName, sel, nil)
	if !ok {
		data = jsonNull
	}
	return &graphql.Response{Data: data}
}

func (ec *executionContext) subscribe(ctx context.Context, sel ast.SelectionSet) graphql.ResponseHandler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{"Subscription"})
	if len(fields) != 1 {
		return graphql.OneShot(graphql.ErrorResponse(ctx, "subscription must select exactly one field"))
	}
	f := fields[0]
	path := ast.Path{ast.PathName(f.Alias)}

	stream, err := ec.stream(ctx, f)
	if err != nil {
		return graphql.OneShot(&graphql.Response{
			Data:   jsonNull,
			Errors: gqlerror.List{gqlerror.WrapPath(path, err)},
		})
	}

	return func(ctx context.Context) *graphql.Response {
		select {
		case v, ok := <-stream:
			if !ok {
				return nil
			}
			raw, ok := ec.complete(ctx, path, f.Definition.Type, f.Selections, v)
			if !ok {
				return &graphql.Response{Data: jsonNull}
			}
			var buf bytes.Buffer
			buf.WriteByte('{')
			writeKey(&buf, f.Alias)
			buf.Write(raw)
			buf.WriteByte('}')
			return &graphql.Response{Data: buf.Bytes()}
		case <-ctx.Done():
			return nil
		}
	}
}

func (ec *executionContext) stream(ctx context.Context, f graphql.CollectedField) (<-chan any, error) {
	a := arguments(f.ArgumentMap(ec.Variables))
	s := ec.resolvers.Subscription()
	switch f.Name {
	case "commentAdded":
		ch, err := s.CommentAdded(ctx, a.str("postId"))
		if err != nil {
			return nil, err
		}
		return forward(ctx, ch), nil
	case "presence":
		ch, err := s.Presence(ctx, a.str("roomId"), a.optStr("userId"))
		if err != nil {
			return nil, err
		}
		return forward(ctx, ch), nil
	}
	return nil, fmt.Errorf("unknown subscription %q", f.Name)
}

func forward[T any](ctx context.Context, in <-chan T) <-chan any {
	out := make(chan any)
	go func() {
		defer close(out)
		for v := range in {
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// object отрисовывает выбранные поля obj. false означает, что обязательное поле оказалось null
func (ec *executionContext) object(ctx context.Context, path ast.Path, typeName string, sel ast.SelectionSet, obj any) (json.RawMessage, bool) {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{typeName})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, f.Alias)

		if f.Name == "__typename" {
			raw, _ := json.Marshal(typeName)
			buf.Write(raw)
			continue
		}

		fieldPath := appendPath(path, ast.PathName(f.Alias))
		value, err := ec.resolve(ctx, typeName, f, obj)
		if err != nil {
			ec.addError(ctx, fieldPath, err)
			if f.Definition.Type.NonNull {
				return nil, false
			}
			buf.Write(jsonNull)
			continue
		}

		raw, ok := ec.complete(ctx, fieldPath, f.Definition.Type, f.Selections, value)
		if !ok {
			return nil, false
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), true
}

// complete отрисовывает v как typ. false означает null в обязательной позиции, он всплывает выше
func (ec *executionContext) complete(ctx context.Context, path ast.Path, typ *ast.Type, sel ast.SelectionSet, v any) (json.RawMessage, bool) {
	if isNil(v) {
		if typ.NonNull {
			ec.addError(ctx, path, errors.New("must not be null"))
			return nil, false
		}
		return jsonNull, true
	}

	var (
		raw json.RawMessage
		ok  = true
	)
	if typ.Elem != nil {
		raw, ok = ec.list(ctx, path, typ.Elem, sel, v)
	} else {
		def := parsedSchema.Types[typ.NamedType]
		switch {
		case def == nil:
			ec.addError(ctx, path, fmt.Errorf("unknown type %s", typ.NamedType))
			ok = false
		case def.Kind == ast.Object:
			raw, ok = ec.object(ctx, path, def.Name, sel, v)
		case def.Kind == ast.Scalar || def.Kind == ast.Enum:
			var err error
			if raw, err = json.Marshal(v); err != nil {
				ec.addError(ctx, path, err)
				ok = false
			}
		default:
			ec.addError(ctx, path, fmt.Errorf("unsupported kind %s of %s", def.Kind, def.Name))
			ok = false
		}
	}

	if ok {
		return raw, true
	}
	if typ.NonNull {
		return nil, false
	}
	return jsonNull, true
}

// list отрисовывает элементы, объекты параллельно, чтобы загрузчики полей собирали пачки
func (ec *executionContext) list(ctx context.Context, path ast.Path, elem *ast.Type, sel ast.SelectionSet, v any) (json.RawMessage, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		ec.addError(ctx, path, fmt.Errorf("expected a list, got %T", v))
		return nil, false
	}

	n := rv.Len()
	items := make([]json.RawMessage, n)
	oks := make([]bool, n)
	completeAt := func(i int) {
		items[i], oks[i] = ec.complete(ctx, appendPath(path, ast.PathIndex(i)), elem, sel, rv.Index(i).Interface())
	}

	if def := parsedSchema.Types[elem.Name()]; def != nil && def.Kind == ast.Object && !def.BuiltIn && n > 1 {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				completeAt(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < n; i++ {
			completeAt(i)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := range items {
		if !oks[i] {
			return nil, false
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(items[i])
	}
	buf.WriteByte(']')
	return buf.Bytes(), true
}

func (ec *executionContext) resolve(ctx context.Context, typeName string, f graphql.CollectedField, obj any) (res any, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, ec.Recover(ctx, r)
		}
	}()

	a := arguments(f.ArgumentMap(ec.Variables))
	switch typeName {
	case "Query":
		return ec.query(ctx, f.Name, a)
	case "Mutation":
		return ec.mutation(ctx, f.Name, a)
	case "Post":
		return ec.post(ctx, f.Name, a, obj.(*Post))
	case "Comment":
		return ec.comment(ctx, f.Name, a, obj.(*Comment))
	case "PaginatedPosts":
		p := obj.(*PaginatedPosts)
		switch f.Name {
		case "posts":
			return p.Posts, nil
		case "totalCount":
			return p.TotalCount, nil
		case "nextCursor":
			return p.NextCursor, nil
		}
	case "PaginatedComments":
		p := obj.(*PaginatedComments)
		switch f.Name {
		case "comments":
			return p.Comments, nil
		case "totalCount":
			return p.TotalCount, nil
		case "nextCursor":
			return p.NextCursor, nil
		}
	case "SearchResult":
		r := obj.(*SearchResult)
		switch f.Name {
		case "id":
			return r.ID, nil
		case "title":
			return r.Title, nil
		case "content":
			return r.Content, nil
		}
	case "Viewer":
		v := obj.(*Viewer)
		switch f.Name {
		case "userId":
			return v.UserID, nil
		case "name":
			return v.Name, nil
		case "image":
			return v.Image, nil
		case "online":
			return v.Online, nil
		case "lastSeen":
			return v.LastSeen, nil
		}
	case "__Schema", "__Type", "__Field", "__InputValue", "__EnumValue", "__Directive":
		return ec.introspect(typeName, f.Name, a, obj)
	case "User":
		u := obj.(*User)
		switch f.Name {
		case "id":
			return u.ID, nil
		case "name":
			return u.Name, nil
		case "image":
			return u.Image, nil
		}
	}
	return nil, fmt.Errorf("field %s.%s is not implemented", typeName, f.Name)
}

func (ec *executionContext) query(ctx context.Context, field string, a arguments) (any, error) {
	q := ec.resolvers.Query()
	switch field {
	case "posts":
		limit, err := a.integer("limit")
		if err != nil {
			return nil, err
		}
		return q.Posts(ctx, limit, a.optStr("cursor"))
	case "post":
		return q.Post(ctx, a.str("id"))
	case "comments":
		limit, err := a.integer("limit")
		if err != nil {
			return nil, err
		}
		return q.Comments(ctx, a.str("postId"), limit, a.optStr("cursor"))
	case "searchPosts":
		limit, err := a.integer("limit")
		if err != nil {
			return nil, err
		}
		return q.SearchPosts(ctx, a.str("term"), limit)
	case "viewers":
		return q.Viewers(ctx, a.str("roomId"))
	case "me":
		return q.Me(ctx)
	case "__schema":
		return ec.introspectSchema()
	case "__type":
		return ec.introspectType(a.str("name"))
	}
	return nil, fmt.Errorf("field Query.%s is not implemented", field)
}

func (ec *executionContext) mutation(ctx context.Context, field string, a arguments) (any, error) {
	m := ec.resolvers.Mutation()
	switch field {
	case "createPost":
		return m.CreatePost(ctx, a.str("title"), a.str("content"), a.optStr("imageId"))
	case "createComment":
		return m.CreateComment(ctx, a.str("postId"), a.optStr("parentId"), a.str("content"))
	case "generateUploadUrl":
		return m.GenerateUploadURL(ctx)
	}
	return nil, fmt.Errorf("field Mutation.%s is not implemented", field)
}

func (ec *executionContext) post(ctx context.Context, field string, a arguments, obj *Post) (any, error) {
	switch field {
	case "id":
		return obj.ID, nil
	case "title":
		return obj.Title, nil
	case "content":
		return obj.Content, nil
	case "authorId":
		return obj.AuthorID, nil
	case "imageId":
		return obj.ImageID, nil
	case "createdAt":
		return obj.CreatedAt, nil
	case "imageUrl":
		return ec.resolvers.Post().ImageURL(ctx, obj)
	case "commentCount":
		return ec.resolvers.Post().CommentCount(ctx, obj)
	case "comments":
		limit, err := a.integer("limit")
		if err != nil {
			return nil, err
		}
		return ec.resolvers.Post().Comments(ctx, obj, limit, a.optStr("cursor"))
	}
	return nil, fmt.Errorf("field Post.%s is not implemented", field)
}

func (ec *executionContext) comment(ctx context.Context, field string, a arguments, obj *Comment) (any, error) {
	switch field {
	case "id":
		return obj.ID, nil
	case "postId":
		return obj.PostID, nil
	case "parentId":
		return obj.ParentID, nil
	case "authorId":
		return obj.AuthorID, nil
	case "authorName":
		return obj.AuthorName, nil
	case "authorImage":
		return obj.AuthorImage, nil
	case "content":
		return obj.Content, nil
	case "createdAt":
		return obj.CreatedAt, nil
	case "replies":
		limit, err := a.integer("limit")
		if err != nil {
			return nil, err
		}
		return ec.resolvers.Comment().Replies(ctx, obj, limit, a.optStr("cursor"))
	}
	return nil, fmt.Errorf("field Comment.%s is not implemented", field)
}

func (ec *executionContext) addError(ctx context.Context, path ast.Path, err error) {
	graphql.AddError(ctx, gqlerror.WrapPath(path, err))
}

// arguments - аргументы поля с подставленными значениями по умолчанию и переменными
type arguments map[string]any

func (a arguments) str(name string) string {
	if s := a.optStr(name); s != nil {
		return *s
	}
	return ""
}

func (a arguments) optStr(name string) *string {
	switch v := a[name].(type) {
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

func (a arguments) boolean(name string) bool {
	switch v := a[name].(type) {
	case bool:
		return v
	case *bool:
		return v != nil && *v
	}
	return false
}

func (a arguments) integer(name string) (int, error) {
	switch v := a[name].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("argument %s: %w", name, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("argument %s is required", name)
	}
	return 0, fmt.Errorf("argument %s: unexpected type %T", name, a[name])
}

func writeKey(buf *bytes.Buffer, key string) {
	raw, _ := json.Marshal(key)
	buf.Write(raw)
	buf.WriteByte(':')
}

func appendPath(path ast.Path, el ast.PathElement) ast.Path {
	p := make(ast.Path, len(path), len(path)+1)
	copy(p, path)
	return append(p, el)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface, reflect.Chan, reflect.Func:
		return rv.IsNil()
	}
	return false
}
