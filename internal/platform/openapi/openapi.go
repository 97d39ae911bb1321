package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds an OpenAPI 3.0 spec from the routes registered on an echo
// instance. Routes with an entry in the operation table get a summary,
// parameters and schemas; any other route is listed with a generic summary.
type Generator struct {
	routes  func() []*echo.Route
	version string
	baseURL string
}

// NewGenerator creates a generator over routes, usually (*echo.Echo).Routes.
func NewGenerator(routes func() []*echo.Route, version, baseURL string) *Generator {
	return &Generator{routes: routes, version: version, baseURL: baseURL}
}

type paramDef struct {
	name        string
	in          string
	typ         string
	description string
	enum        []string
}

type operationDoc struct {
	summary     string
	tag         string
	query       []paramDef
	requestRef  string
	responseRef string
	status      string
	binary      bool
}

var formatParam = paramDef{name: "format", in: "query", typ: "string", description: "Serialization format", enum: []string{"json", "xml"}}

func boolParam(name, description string) paramDef {
	return paramDef{name: name, in: "query", typ: "boolean", description: description}
}

var operations = map[string]operationDoc{
	"GET /health":                     {summary: "Liveness check", tag: "health", status: "200"},
	"GET /health/db":                  {summary: "Database health and pool statistics", tag: "health", status: "200"},
	"GET /api/v1/encounters":          {summary: "List the caller's encounters", tag: "encounters", status: "200", query: []paramDef{{name: "limit", in: "query", typ: "integer"}, {name: "offset", in: "query", typ: "integer"}}},
	"POST /api/v1/encounters":         {summary: "Create an encounter", tag: "encounters", requestRef: "Encounter", responseRef: "Encounter", status: "201"},
	"GET /api/v1/encounters/:id":      {summary: "Read an encounter", tag: "encounters", responseRef: "Encounter", status: "200"},
	"PUT /api/v1/encounters/:id":      {summary: "Update an encounter", tag: "encounters", requestRef: "Encounter", responseRef: "Encounter", status: "200"},
	"DELETE /api/v1/encounters/:id":   {summary: "Delete an encounter", tag: "encounters", status: "204"},
	"POST /api/v1/characters":         {summary: "Create a character", tag: "characters", requestRef: "Character", responseRef: "Character", status: "201"},
	"GET /api/v1/characters/:id":      {summary: "Read a character", tag: "characters", responseRef: "Character", status: "200"},
	"POST /api/v1/encounters/import":  {summary: "Import an encounter document", tag: "transfer", requestRef: "ImportRequest", responseRef: "ImportResponse", status: "200"},
	"POST /api/v1/encounters/restore": {summary: "Restore encounters from a backup", tag: "transfer", requestRef: "RestoreRequest", responseRef: "RestoreResult", status: "200"},
	"POST /api/v1/encounters/batch":   {summary: "Run an operation over up to 50 encounters", tag: "transfer", requestRef: "BatchRequest", responseRef: "BatchResponse", status: "200"},
	"GET /api/v1/encounters/:id/export": {
		summary: "Export an encounter", tag: "transfer", status: "200", binary: true,
		query: []paramDef{
			formatParam,
			boolParam("includeCharacterSheets", "Embed linked character sheets"),
			boolParam("includePrivateNotes", "Keep participant notes"),
			boolParam("includeIds", "Keep encounter and participant ids"),
			boolParam("stripPersonalData", "Drop exportedBy and player names"),
		},
	},
	"GET /api/v1/encounters/backup": {
		summary: "Download a backup of every owned encounter", tag: "transfer", status: "200", binary: true,
		query: []paramDef{
			formatParam,
			boolParam("includeCharacterSheets", "Embed linked character sheets"),
			boolParam("includePrivateNotes", "Keep participant notes"),
			{name: "compress", in: "query", typ: "string", enum: []string{"none", "gzip"}},
		},
	},
}

var documentedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodDelete: true,
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})

	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	for _, r := range routes {
		if !documentedMethods[r.Method] || strings.Contains(r.Path, "*") || isDocsRoute(r.Path) {
			continue
		}
		key := openAPIPath(r.Path)
		item, _ := paths[key].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[key] = item
		}
		item[strings.ToLower(r.Method)] = buildOperation(r)
	}

	spec := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "DM Vault API",
			"version":     g.version,
			"description": "Encounter storage with JSON/XML import, export, backup and batch operations",
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]interface{}{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
	if g.baseURL != "" {
		spec["servers"] = []map[string]string{{"url": g.baseURL}}
	}
	return spec
}

func isDocsRoute(path string) bool {
	return path == "/api/openapi.json" || path == "/api/docs"
}

// openAPIPath converts echo's :param segments to {param}.
func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func pathParams(path string) []paramDef {
	var params []paramDef
	for _, s := range strings.Split(path, "/") {
		if strings.HasPrefix(s, ":") {
			params = append(params, paramDef{name: s[1:], in: "path", typ: "string"})
		}
	}
	return params
}

func buildOperation(r *echo.Route) map[string]interface{} {
	doc, ok := operations[r.Method+" "+r.Path]
	if !ok {
		doc = operationDoc{summary: r.Method + " " + r.Path, status: "200"}
	}

	op := map[string]interface{}{
		"summary":   doc.summary,
		"responses": buildResponses(doc),
	}
	if doc.tag != "" {
		op["tags"] = []string{doc.tag}
	}
	if params := buildParameters(append(pathParams(r.Path), doc.query...)); len(params) > 0 {
		op["parameters"] = params
	}
	if doc.requestRef != "" {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": schemaRef(doc.requestRef),
				},
			},
		}
	}
	if strings.HasPrefix(r.Path, "/api/") {
		op["security"] = []map[string][]string{{"bearerAuth": {}}}
	}
	return op
}

func buildParameters(defs []paramDef) []map[string]interface{} {
	params := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		schema := map[string]interface{}{"type": d.typ}
		if len(d.enum) > 0 {
			schema["enum"] = d.enum
		}
		p := map[string]interface{}{
			"name":   d.name,
			"in":     d.in,
			"schema": schema,
		}
		if d.in == "path" {
			p["required"] = true
		}
		if d.description != "" {
			p["description"] = d.description
		}
		params = append(params, p)
	}
	return params
}

func buildResponses(doc operationDoc) map[string]interface{} {
	ok := map[string]interface{}{"description": "Success"}
	switch {
	case doc.binary:
		ok["description"] = "Attachment download"
		ok["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{"schema": map[string]string{"type": "string", "format": "binary"}},
			"application/xml":  map[string]interface{}{"schema": map[string]string{"type": "string", "format": "binary"}},
			"application/gzip": map[string]interface{}{"schema": map[string]string{"type": "string", "format": "binary"}},
		}
	case doc.responseRef != "":
		ok["content"] = map[string]interface{}{
			"application/json": map[string]interface{}{"schema": schemaRef(doc.responseRef)},
		}
	case doc.status == "204":
		ok["description"] = "No content"
	}

	errResp := func(description string) map[string]interface{} {
		return map[string]interface{}{
			"description": description,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": schemaRef("Error")},
			},
		}
	}
	return map[string]interface{}{
		doc.status: ok,
		"400":      errResp("Invalid request data"),
		"401":      errResp("Authentication required"),
		"403":      errResp("Access denied"),
		"404":      errResp("Not found"),
		"500":      errResp("Internal server error"),
	}
}

func schemaRef(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

func prop(typ string) map[string]interface{} {
	return map[string]interface{}{"type": typ}
}

func arrayOf(items map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "array", "items": items}
}

func object(props map[string]interface{}, required ...string) map[string]interface{} {
	o := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		o["required"] = required
	}
	return o
}

func buildComponentSchemas() map[string]interface{} {
	participant := object(map[string]interface{}{
		"id":                 prop("string"),
		"name":               prop("string"),
		"type":               map[string]interface{}{"type": "string", "enum": []string{"pc", "npc", "monster"}},
		"maxHitPoints":       prop("integer"),
		"currentHitPoints":   prop("integer"),
		"temporaryHitPoints": prop("integer"),
		"armorClass":         prop("integer"),
		"initiative":         prop("integer"),
		"isPlayer":           prop("boolean"),
		"isVisible":          prop("boolean"),
		"notes":              prop("string"),
		"conditions":         arrayOf(prop("string")),
		"characterId":        prop("string"),
		"characterSheet":     schemaRef("Character"),
	}, "name", "type")

	return map[string]interface{}{
		"Error": object(map[string]interface{}{
			"error":   prop("string"),
			"details": arrayOf(prop("string")),
		}, "error"),
		"Participant": participant,
		"Encounter": object(map[string]interface{}{
			"id":                prop("string"),
			"ownerId":           prop("string"),
			"name":              prop("string"),
			"description":       prop("string"),
			"tags":              arrayOf(prop("string")),
			"difficulty":        map[string]interface{}{"type": "string", "enum": []string{"trivial", "easy", "medium", "hard", "deadly"}},
			"estimatedDuration": prop("integer"),
			"targetLevel":       prop("integer"),
			"status":            map[string]interface{}{"type": "string", "enum": []string{"draft", "active", "completed", "archived"}},
			"isPublic":          prop("boolean"),
			"isTemplate":        prop("boolean"),
			"settings":          prop("object"),
			"participants":      arrayOf(schemaRef("Participant")),
		}, "name"),
		"Character": object(map[string]interface{}{
			"id":           prop("string"),
			"name":         prop("string"),
			"class":        prop("string"),
			"race":         prop("string"),
			"level":        prop("integer"),
			"maxHitPoints": prop("integer"),
			"armorClass":   prop("integer"),
			"playerName":   prop("string"),
		}, "name"),
		"ImportRequest": object(map[string]interface{}{
			"data":    prop("string"),
			"format":  map[string]interface{}{"type": "string", "enum": []string{"json", "xml"}},
			"options": importOptions(),
		}, "data", "format"),
		"ImportResponse": object(map[string]interface{}{
			"success":   prop("boolean"),
			"encounter": encounterSummary(),
		}),
		"RestoreRequest": object(map[string]interface{}{
			"backupData": prop("string"),
			"format":     map[string]interface{}{"type": "string", "enum": []string{"json", "xml"}},
			"options": mergeProperties(importOptions(), map[string]interface{}{
				"selectiveRestore": arrayOf(prop("string")),
			}),
		}, "backupData", "format"),
		"RestoreResult": object(map[string]interface{}{
			"success": prop("boolean"),
			"restored": arrayOf(object(map[string]interface{}{
				"originalName":     prop("string"),
				"importedId":       prop("string"),
				"importedName":     prop("string"),
				"participantCount": prop("integer"),
			})),
			"errors": arrayOf(object(map[string]interface{}{
				"encounterName": prop("string"),
				"error":         prop("string"),
			})),
			"summary": object(map[string]interface{}{
				"totalEncounters":      prop("integer"),
				"successfullyRestored": prop("integer"),
				"failed":               prop("integer"),
				"backupDate":           map[string]interface{}{"type": "string", "format": "date-time"},
			}),
		}),
		"BatchRequest": object(map[string]interface{}{
			"operation": map[string]interface{}{
				"type": "string",
				"enum": []string{"export", "template", "delete", "archive", "publish", "duplicate"},
			},
			"encounterIds": map[string]interface{}{
				"type": "array", "items": prop("string"), "minItems": 1, "maxItems": 50,
			},
			"options": object(map[string]interface{}{
				"format":                 map[string]interface{}{"type": "string", "enum": []string{"json", "xml"}},
				"includeCharacterSheets": prop("boolean"),
				"includePrivateNotes":    prop("boolean"),
				"stripPersonalData":      prop("boolean"),
				"templatePrefix":         prop("string"),
				"reason":                 prop("string"),
				"makePublic":             prop("boolean"),
				"namePrefix":             prop("string"),
			}),
		}, "operation", "encounterIds"),
		"BatchResponse": object(map[string]interface{}{
			"success":   prop("boolean"),
			"operation": prop("string"),
			"results":   arrayOf(schemaRef("BatchResult")),
			"errors":    arrayOf(schemaRef("BatchResult")),
			"summary": object(map[string]interface{}{
				"totalProcessed": prop("integer"),
				"successful":     prop("integer"),
				"failed":         prop("integer"),
			}),
		}),
		"BatchResult": object(map[string]interface{}{
			"encounterId": prop("string"),
			"status":      map[string]interface{}{"type": "string", "enum": []string{"success", "error"}},
			"data":        prop("object"),
			"error":       prop("string"),
		}, "encounterId", "status"),
	}
}

func importOptions() map[string]interface{} {
	return object(map[string]interface{}{
		"preserveIds":             prop("boolean"),
		"createMissingCharacters": prop("boolean"),
		"overwriteExisting":       prop("boolean"),
	})
}

func encounterSummary() map[string]interface{} {
	return object(map[string]interface{}{
		"id":               prop("string"),
		"name":             prop("string"),
		"description":      prop("string"),
		"participantCount": prop("integer"),
	})
}

// mergeProperties adds extra properties to an object schema.
func mergeProperties(schema, extra map[string]interface{}) map[string]interface{} {
	props, _ := schema["properties"].(map[string]interface{})
	for k, v := range extra {
		props[k] = v
	}
	return schema
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>DM Vault API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis
      ]
    })
  </script>
</body>
</html>`

// RegisterRoutes registers the OpenAPI endpoints.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
