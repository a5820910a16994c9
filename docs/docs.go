// Package docs holds the OpenAPI description served at /swagger/.
//
// Regenerate with: swag init -g cmd/voicedesk/main.go -o docs
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/v1/interactions": {
            "post": {
                "description": "Accepts a contact-center event, a direct audio payload ({audio_data, did, session_id, audio_format}) or a text payload ({text|inputText, did, session_id}). Raw audio can also be POSTed with an audio/* Content-Type.",
                "consumes": ["application/json", "audio/wav", "audio/mpeg"],
                "produces": ["application/json"],
                "tags": ["interactions"],
                "summary": "Handle one caller interaction",
                "parameters": [
                    {
                        "description": "Interaction event (JSON). For raw audio, POST the bytes directly.",
                        "name": "payload",
                        "in": "body",
                        "required": true,
                        "schema": {"type": "object"}
                    },
                    {
                        "type": "string",
                        "description": "Dialed number (raw audio uploads)",
                        "name": "X-Voicedesk-DID",
                        "in": "header"
                    },
                    {
                        "type": "string",
                        "description": "Session id (raw audio uploads)",
                        "name": "X-Voicedesk-Session",
                        "in": "header"
                    }
                ],
                "responses": {
                    "200": {
                        "description": "Handled, possibly with fallbacks",
                        "schema": {"$ref": "#/definitions/interaction.Envelope"}
                    },
                    "400": {
                        "description": "Unreadable body",
                        "schema": {"type": "string"}
                    },
                    "413": {
                        "description": "Body larger than 25 MB",
                        "schema": {"type": "string"}
                    },
                    "500": {
                        "description": "Malformed payload or internal error",
                        "schema": {"$ref": "#/definitions/interaction.Envelope"}
                    }
                }
            }
        },
        "/v1/tenants": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tenants"],
                "summary": "List tenants",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/http.tenantList"}
                    }
                }
            }
        },
        "/v1/tenants/resolve": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tenants"],
                "summary": "Resolve a dialed number to a tenant",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Dialed number, any formatting",
                        "name": "did",
                        "in": "query",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/tenant.Profile"}
                    },
                    "400": {
                        "description": "Bad Request",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        },
        "/v1/tenants/{did}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["tenants"],
                "summary": "Get a tenant by DID",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Tenant DID",
                        "name": "did",
                        "in": "path",
                        "required": true
                    }
                ],
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"$ref": "#/definitions/tenant.Profile"}
                    },
                    "404": {
                        "description": "Not Found",
                        "schema": {"type": "object", "additionalProperties": {"type": "string"}}
                    }
                }
            }
        }
    },
    "definitions": {
        "interaction.Envelope": {
            "type": "object",
            "properties": {
                "transcribed_text": {"type": "string"},
                "user_input": {"type": "string"},
                "agent_response": {"type": "string"},
                "audio_url": {"type": "string", "x-nullable": true},
                "audio_base64": {"type": "string", "x-nullable": true},
                "session_id": {"type": "string"},
                "did": {"type": "string"},
                "clinic_name": {"type": "string"},
                "voice_id": {"type": "string"},
                "requires_handoff": {"type": "boolean"},
                "error": {"type": "string"}
            }
        },
        "tenant.Profile": {
            "type": "object",
            "properties": {
                "did": {"type": "string"},
                "name": {"type": "string"},
                "greeting": {"type": "string"},
                "voice_id": {"type": "string"},
                "engine": {"type": "string"}
            }
        },
        "http.tenantList": {
            "type": "object",
            "properties": {
                "tenants": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/tenant.Profile"}
                },
                "count": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "voicedesk API",
	Description:      "Multi-tenant voice front desk for medical clinics.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
