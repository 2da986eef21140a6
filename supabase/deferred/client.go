package deferred

import (
	"context"
	"net/http"

	"github.com/addfeaturesnow/prodesk/supabase/client"
)

// ConstructorOptions configures the real Supabase client built by the loader.
type ConstructorOptions struct {
	HTTPClient *http.Client
	Sessions   client.SessionStore
	Resilience *client.ResilienceConfig
}

// SupabaseConstructor builds a *client.Client with persisted sessions and
// automatic token refresh.
func SupabaseConstructor(opts ConstructorOptions) Constructor {
	return func(_ context.Context, cfg Config) (any, error) {
		return client.New(client.Config{
			URL:              cfg.URL,
			APIKey:           cfg.APIKey,
			HTTPClient:       opts.HTTPClient,
			Sessions:         opts.Sessions,
			PersistSession:   true,
			AutoRefreshToken: true,
			Resilience:       opts.Resilience,
		})
	}
}

// Client records Supabase operations and runs them once awaited. Only the
// operations of *client.Client are exposed; StandIn is the escape hatch.
type Client struct {
	loader *Loader
	root   StandIn
}

// New returns a deferred client on l.
func New(l *Loader) *Client {
	return &Client{loader: l, root: NewStandIn(l)}
}

// NewSupabase wires a loader with the Supabase constructor.
func NewSupabase(cfg Config, opts ConstructorOptions, loaderOpts ...LoaderOption) *Client {
	return New(NewLoader(cfg, SupabaseConstructor(opts), loaderOpts...))
}

// Loader returns the client's loader.
func (c *Client) Loader() *Loader { return c.loader }

// StandIn returns the stand-in for the backend itself.
func (c *Client) StandIn() StandIn { return c.root }

// From starts a table query.
func (c *Client) From(table string) *Query {
	return &Query{s: c.root.Call("From", table)}
}

// RPC calls a stored procedure.
//
// The call is a replay step, so it holds the loader's replay lock for its
// whole round trip and runs on a context detached from the caller's. A hung
// RPC stalls the steps of every other chain on the same loader until the
// backend's HTTP timeout fires.
func (c *Client) RPC(fn string, params any) *Pending[*client.Response] {
	return &Pending[*client.Response]{s: c.root.Call("RPC", fn, params)}
}

// Auth returns the auth operations.
//
// SignUp, SignInWithPassword, RefreshSession, GetUser and SignOut do their
// network I/O as replay steps. Like RPC they hold the loader's replay lock
// on a detached context, so a slow auth server delays every other chain on
// the loader.
func (c *Client) Auth() *Auth {
	return &Auth{s: c.root.Call("Auth")}
}

// Storage returns the storage operations.
func (c *Client) Storage() *Storage {
	return &Storage{s: c.root.Call("Storage")}
}

// Realtime resolves to a new realtime client for the project.
func (c *Client) Realtime() *Pending[*client.RealtimeClient] {
	return &Pending[*client.RealtimeClient]{s: c.root.Call("Realtime")}
}

// Pending is a recorded operation resolving to a T.
type Pending[T any] struct {
	s StandIn
}

// StandIn returns the underlying stand-in.
func (p *Pending[T]) StandIn() StandIn { return p.s }

// Await implements Awaitable.
func (p *Pending[T]) Await(ctx context.Context) (any, error) { return p.s.Await(ctx) }

// Result awaits the operation and returns its typed result.
func (p *Pending[T]) Result(ctx context.Context) (T, error) { return AwaitAs[T](ctx, p.s) }

// Query is a recorded PostgREST query. Every method returns a new Query.
type Query struct {
	s StandIn
}

func (q *Query) next(name string, args ...any) *Query {
	return &Query{s: q.s.Call(name, args...)}
}

// StandIn returns the underlying stand-in.
func (q *Query) StandIn() StandIn { return q.s }

func (q *Query) Select(columns string) *Query { return q.next("Select", columns) }
func (q *Query) Eq(column string, value any) *Query { return q.next("Eq", column, value) }
func (q *Query) Neq(column string, value any) *Query { return q.next("Neq", column, value) }
func (q *Query) Gt(column string, value any) *Query { return q.next("Gt", column, value) }
func (q *Query) Gte(column string, value any) *Query { return q.next("Gte", column, value) }
func (q *Query) Lt(column string, value any) *Query { return q.next("Lt", column, value) }
func (q *Query) Lte(column string, value any) *Query { return q.next("Lte", column, value) }
func (q *Query) Like(column, pattern string) *Query { return q.next("Like", column, pattern) }
func (q *Query) ILike(column, pattern string) *Query { return q.next("ILike", column, pattern) }
func (q *Query) In(column string, values []any) *Query {
	return q.next("In", column, values)
}
func (q *Query) Is(column string, value any) *Query { return q.next("Is", column, value) }
func (q *Query) Order(column string, ascending bool) *Query { return q.next("Order", column, ascending) }
func (q *Query) Limit(n int) *Query { return q.next("Limit", n) }
func (q *Query) Offset(n int) *Query { return q.next("Offset", n) }
func (q *Query) Single() *Query { return q.next("Single") }
func (q *Query) Count(countType string) *Query { return q.next("Count", countType) }
func (q *Query) Insert(data any) *Query { return q.next("Insert", data) }
func (q *Query) Upsert(data any, onConflict string) *Query {
	return q.next("Upsert", data, onConflict)
}
func (q *Query) Update(data any) *Query { return q.next("Update", data) }
func (q *Query) Delete() *Query { return q.next("Delete") }

// Await implements Awaitable.
func (q *Query) Await(ctx context.Context) (any, error) { return q.s.Await(ctx) }

// Execute awaits the query and returns the raw response.
func (q *Query) Execute(ctx context.Context) (*client.Response, error) {
	return AwaitAs[*client.Response](ctx, q.s)
}

// Rows awaits the query and decodes the JSON body into dest.
func (q *Query) Rows(ctx context.Context, dest any) error {
	resp, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return resp.JSON(dest)
}

// Auth is the recorded auth sub-client.
type Auth struct {
	s StandIn
}

func (a *Auth) SignUp(creds client.Credentials) *Pending[*client.Session] {
	return &Pending[*client.Session]{s: a.s.Call("SignUp", creds)}
}

func (a *Auth) SignInWithPassword(creds client.Credentials) *Pending[*client.Session] {
	return &Pending[*client.Session]{s: a.s.Call("SignInWithPassword", creds)}
}

func (a *Auth) RefreshSession() *Pending[*client.Session] {
	return &Pending[*client.Session]{s: a.s.Call("RefreshSession")}
}

func (a *Auth) Session() *Pending[*client.Session] {
	return &Pending[*client.Session]{s: a.s.Call("Session")}
}

func (a *Auth) GetUser() *Pending[*client.User] {
	return &Pending[*client.User]{s: a.s.Call("GetUser")}
}

func (a *Auth) SignOut() *Pending[any] {
	return &Pending[any]{s: a.s.Call("SignOut")}
}

// Storage is the recorded storage sub-client.
type Storage struct {
	s StandIn
}

// From selects a bucket.
func (s *Storage) From(bucket string) *Bucket {
	return &Bucket{s: s.s.Call("From", bucket)}
}

// Bucket is a recorded bucket client.
type Bucket struct {
	s StandIn
}

func (b *Bucket) Upload(path string, data []byte, contentType string, upsert bool) *Pending[*client.Response] {
	return &Pending[*client.Response]{s: b.s.Call("Upload", path, data, contentType, upsert)}
}

func (b *Bucket) Download(path string) *Pending[[]byte] {
	return &Pending[[]byte]{s: b.s.Call("Download", path)}
}

func (b *Bucket) Remove(paths []string) *Pending[*client.Response] {
	return &Pending[*client.Response]{s: b.s.Call("Remove", paths)}
}

func (b *Bucket) GetPublicURL(path string) *Pending[string] {
	return &Pending[string]{s: b.s.Call("GetPublicURL", path)}
}
