package connector

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo loads a collection. The location names the database and the
// collection in its path:
//
//	mongodb://user:pw@host:27017/app/users?authSource=admin
//
// Source.Filter and Source.Projection take extended JSON.
type Mongo struct {
	src  Source
	opts DatabaseOptions
}

// NewMongo creates a mongo-driver backed connector for src.
func NewMongo(src Source, opts DatabaseOptions) *Mongo {
	return &Mongo{src: src, opts: opts.withDefaults()}
}

// Load implements Connector.
func (m *Mongo) Load(ctx context.Context, location string) (Table, error) {
	fail := func(reason string, err error) error {
		return &LoadError{Location: Redact(location), Reason: reason + err.Error(), Err: err}
	}
	uri, db, coll, err := parseMongoLocation(location, m.src.Table)
	if err != nil {
		return nil, fail("", err)
	}
	filter := bson.D{}
	if f := strings.TrimSpace(m.src.Filter); f != "" {
		if err := bson.UnmarshalExtJSON([]byte(f), false, &filter); err != nil {
			return nil, fail("filter: ", err)
		}
	}
	find := options.Find()
	if p := strings.TrimSpace(m.src.Projection); p != "" {
		var proj bson.D
		if err := bson.UnmarshalExtJSON([]byte(p), false, &proj); err != nil {
			return nil, fail("projection: ", err)
		}
		find.SetProjection(proj)
	}
	if m.src.Limit > 0 {
		find.SetLimit(m.src.Limit)
	}

	client, err := m.connect(uri)
	if err != nil {
		return nil, fail("connect: ", err)
	}
	defer client.Disconnect(context.Background())

	qctx, cancel := context.WithTimeout(ctx, m.opts.QueryTimeout)
	defer cancel()
	cur, err := client.Database(db).Collection(coll).Find(qctx, filter, find)
	if err != nil {
		return nil, fail("find: ", err)
	}
	var docs []bson.M
	if err := cur.All(qctx, &docs); err != nil {
		return nil, fail("read documents: ", err)
	}

	table := make(Table, len(docs))
	for i, doc := range docs {
		table[i] = normalizeRow(mongoDocument(doc))
	}
	return table.fillColumns(), nil
}

// Validate implements Connector.
func (m *Mongo) Validate(ctx context.Context, location string) bool {
	uri, _, _, err := parseMongoLocation(location, m.src.Table)
	if err != nil {
		return false
	}
	client, err := m.connect(uri)
	if err != nil {
		return false
	}
	defer client.Disconnect(context.Background())
	pctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()
	return client.Ping(pctx, nil) == nil
}

func (m *Mongo) connect(uri string) (*mongo.Client, error) {
	return mongo.Connect(options.Client().
		ApplyURI(uri).
		SetConnectTimeout(m.opts.ConnectTimeout).
		SetServerSelectionTimeout(m.opts.ConnectTimeout))
}

// parseMongoLocation splits /db/collection off the URL path. collection,
// when set, overrides the path's collection.
func parseMongoLocation(location, collection string) (uri, db, coll string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", "", err
	}
	segs := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	db = segs[0]
	if len(segs) == 2 {
		coll = segs[1]
	}
	if collection != "" {
		coll = collection
	}
	if db == "" || coll == "" {
		return "", "", "", fmt.Errorf("location must name a database and a collection: mongodb://host/db/collection")
	}
	u.Path = "/" + db
	u.RawPath = ""
	return u.String(), db, coll, nil
}

func mongoDocument(doc bson.M) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = mongoValue(v)
	}
	return out
}

// mongoValue maps BSON types onto plain Go values; ObjectIDs become hex.
func mongoValue(v any) any {
	switch x := v.(type) {
	case bson.ObjectID:
		return x.Hex()
	case bson.DateTime:
		return x.Time()
	case bson.Timestamp:
		return time.Unix(int64(x.T), 0)
	case bson.Decimal128:
		s := x.String()
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case bson.M:
		return mongoDocument(x)
	case bson.D:
		out := make(map[string]any, len(x))
		for _, e := range x {
			out[e.Key] = mongoValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = mongoValue(e)
		}
		return out
	case bson.Binary:
		return fmt.Sprintf("%x", x.Data)
	}
	return v
}
