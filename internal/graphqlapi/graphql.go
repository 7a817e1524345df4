// Package graphqlapi serves a read-only GraphQL view over the monitoring state.
package graphqlapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"

	"github.com/oremus-labs/ragmon/internal/events"
	"github.com/oremus-labs/ragmon/internal/monitor"
	"github.com/oremus-labs/ragmon/internal/store"
)

// EventSource exposes the retained events.
type EventSource interface {
	Recent() []events.StreamEvent
	CountsByStatus() map[string]int64
	CountsByApp() map[string]int64
	Apps() map[string]string
}

// InstanceSource exposes the instance registry.
type InstanceSource interface {
	List() []monitor.Instance
}

// CommandSource exposes the command audit log.
type CommandSource interface {
	ListCommands(ctx context.Context, app string, limit int) ([]store.CommandEntry, error)
}

// Config wires the GraphQL schema. Nil sources resolve to empty results.
type Config struct {
	Events    EventSource
	Instances InstanceSource
	Commands  CommandSource
}

// NewHandler returns an http.Handler that serves /graphql requests.
func NewHandler(cfg Config) (http.Handler, error) {
	builder := schemaBuilder{cfg: cfg}
	schema, err := builder.buildSchema()
	if err != nil {
		return nil, err
	}

	return handler.New(&handler.Config{
		Schema: schema,
		Pretty: true,
	}), nil
}

type schemaBuilder struct {
	cfg Config
}

func (b schemaBuilder) buildSchema() (*graphql.Schema, error) {
	jsonScalar := graphql.NewScalar(graphql.ScalarConfig{
		Name: "JSON",
		Serialize: func(value interface{}) interface{} {
			return value
		},
	})

	eventType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Event",
		Fields: graphql.Fields{
			// Epoch milliseconds exceed the 32-bit Int range.
			"timestamp":       {Type: graphql.NewNonNull(graphql.Float)},
			"time":            {Type: graphql.String},
			"app":             {Type: graphql.String},
			"stage":           {Type: graphql.String},
			"docId":           {Type: graphql.String},
			"instanceId":      {Type: graphql.String},
			"event":           {Type: graphql.String},
			"status":          {Type: graphql.String},
			"message":         {Type: graphql.String},
			"url":             {Type: graphql.String},
			"hostname":        {Type: graphql.String},
			"currentFile":     {Type: graphql.String},
			"filesProcessed":  {Type: graphql.Float},
			"filesTotal":      {Type: graphql.Float},
			"errorCount":      {Type: graphql.Float},
			"processingRate":  {Type: graphql.Float},
			"pendingMessages": {Type: graphql.Float},
		},
	})

	instanceType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Instance",
		Fields: graphql.Fields{
			"service":         {Type: graphql.NewNonNull(graphql.String)},
			"instanceId":      {Type: graphql.String},
			"url":             {Type: graphql.String},
			"status":          {Type: graphql.NewNonNull(graphql.String)},
			"lastHeartbeatAt": {Type: graphql.Float},
			"lastActivityAt":  {Type: graphql.Float},
			"version":         {Type: graphql.String},
			"meta":            {Type: jsonScalar},
		},
	})

	countType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Count",
		Fields: graphql.Fields{
			"name":  {Type: graphql.NewNonNull(graphql.String)},
			"count": {Type: graphql.NewNonNull(graphql.Int)},
		},
	})

	appType := graphql.NewObject(graphql.ObjectConfig{
		Name: "App",
		Fields: graphql.Fields{
			"name": {Type: graphql.NewNonNull(graphql.String)},
			"url":  {Type: graphql.String},
		},
	})

	commandType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Command",
		Fields: graphql.Fields{
			"id":         {Type: graphql.Float},
			"app":        {Type: graphql.String},
			"method":     {Type: graphql.String},
			"path":       {Type: graphql.String},
			"status":     {Type: graphql.Int},
			"durationMs": {Type: graphql.Float},
			"requestId":  {Type: graphql.String},
			"createdAt":  {Type: graphql.String},
		},
	})

	queryFields := graphql.Fields{
		"events": &graphql.Field{
			Type: graphql.NewList(eventType),
			Args: graphql.FieldConfigArgument{
				"app":    &graphql.ArgumentConfig{Type: graphql.String},
				"status": &graphql.ArgumentConfig{Type: graphql.String},
				"limit":  &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Events == nil {
					return []map[string]interface{}{}, nil
				}
				app, _ := p.Args["app"].(string)
				status, _ := p.Args["status"].(string)
				limit, _ := p.Args["limit"].(int)
				return mapEvents(filterEvents(b.cfg.Events.Recent(), app, status, limit)), nil
			},
		},
		"instances": &graphql.Field{
			Type: graphql.NewList(instanceType),
			Args: graphql.FieldConfigArgument{
				"service": &graphql.ArgumentConfig{Type: graphql.String},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				out := []map[string]interface{}{}
				if b.cfg.Instances == nil {
					return out, nil
				}
				service, _ := p.Args["service"].(string)
				for _, inst := range b.cfg.Instances.List() {
					if service != "" && inst.Service != service {
						continue
					}
					out = append(out, mapInstance(inst))
				}
				return out, nil
			},
		},
		"apps": &graphql.Field{
			Type: graphql.NewList(appType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Events == nil {
					return []map[string]interface{}{}, nil
				}
				apps := b.cfg.Events.Apps()
				names := make([]string, 0, len(apps))
				for name := range apps {
					names = append(names, name)
				}
				sort.Strings(names)
				out := make([]map[string]interface{}, 0, len(names))
				for _, name := range names {
					out = append(out, map[string]interface{}{"name": name, "url": apps[name]})
				}
				return out, nil
			},
		},
		"statusCounts": &graphql.Field{
			Type: graphql.NewList(countType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Events == nil {
					return []map[string]interface{}{}, nil
				}
				return mapCounts(b.cfg.Events.CountsByStatus()), nil
			},
		},
		"appCounts": &graphql.Field{
			Type: graphql.NewList(countType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Events == nil {
					return []map[string]interface{}{}, nil
				}
				return mapCounts(b.cfg.Events.CountsByApp()), nil
			},
		},
		"commands": &graphql.Field{
			Type: graphql.NewList(commandType),
			Args: graphql.FieldConfigArgument{
				"app":   &graphql.ArgumentConfig{Type: graphql.String},
				"limit": &graphql.ArgumentConfig{Type: graphql.Int},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				if b.cfg.Commands == nil {
					return []map[string]interface{}{}, nil
				}
				app, _ := p.Args["app"].(string)
				limit, _ := p.Args["limit"].(int)
				entries, err := b.cfg.Commands.ListCommands(p.Context, app, limit)
				if err != nil {
					return nil, fmt.Errorf("list commands: %w", err)
				}
				out := make([]map[string]interface{}, 0, len(entries))
				for _, entry := range entries {
					out = append(out, mapCommand(entry))
				}
				return out, nil
			},
		},
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queryFields,
		}),
	})
	if err != nil {
		return nil, err
	}
	return &schema, nil
}

// filterEvents keeps the newest limit events matching app and status
// (case-insensitive), oldest first.
func filterEvents(evts []events.StreamEvent, app, status string, limit int) []events.StreamEvent {
	var out []events.StreamEvent
	for _, evt := range evts {
		if app != "" && evt.App != app {
			continue
		}
		if status != "" && !strings.EqualFold(evt.Status, status) {
			continue
		}
		out = append(out, evt)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func mapEvents(evts []events.StreamEvent) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(evts))
	for _, evt := range evts {
		out = append(out, mapEvent(evt))
	}
	return out
}

func mapEvent(evt events.StreamEvent) map[string]interface{} {
	result := map[string]interface{}{
		"timestamp":   float64(evt.Timestamp),
		"time":        evt.Time().UTC().Format(time.RFC3339Nano),
		"app":         evt.App,
		"stage":       evt.Stage,
		"docId":       evt.DocID,
		"instanceId":  evt.InstanceID,
		"event":       evt.Event,
		"status":      evt.Status,
		"message":     evt.Message,
		"url":         evt.URL,
		"hostname":    evt.Hostname,
		"currentFile": evt.CurrentFile,
	}
	setFloat(result, "filesProcessed", evt.FilesProcessed)
	setFloat(result, "filesTotal", evt.FilesTotal)
	setFloat(result, "errorCount", evt.ErrorCount)
	setFloat(result, "pendingMessages", evt.PendingMessages)
	if evt.ProcessingRate != nil {
		result["processingRate"] = *evt.ProcessingRate
	}
	return result
}

func setFloat(result map[string]interface{}, key string, v *int64) {
	if v != nil {
		result[key] = float64(*v)
	}
}

func mapInstance(inst monitor.Instance) map[string]interface{} {
	return map[string]interface{}{
		"service":         inst.Service,
		"instanceId":      inst.InstanceID,
		"url":             inst.URL,
		"status":          inst.Status,
		"lastHeartbeatAt": float64(inst.LastHeartbeatAt),
		"lastActivityAt":  float64(inst.LastActivityAt),
		"version":         inst.Version,
		"meta":            inst.Meta,
	}
}

func mapCounts(counts map[string]int64) []map[string]interface{} {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]interface{}{"name": name, "count": int(counts[name])})
	}
	return out
}

func mapCommand(entry store.CommandEntry) map[string]interface{} {
	return map[string]interface{}{
		"id":         float64(entry.ID),
		"app":        entry.App,
		"method":     entry.Method,
		"path":       entry.Path,
		"status":     entry.Status,
		"durationMs": float64(entry.DurationMs),
		"requestId":  entry.RequestID,
		"createdAt":  entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// EncodeGraphQLQuery is a helper for GraphQL testing (form-encoded JSON bodies).
func EncodeGraphQLQuery(query string) string {
	query = strings.TrimSpace(query)
	data, _ := json.Marshal(map[string]string{"query": query})
	return string(data)
}
