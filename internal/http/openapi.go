package http

// openAPIDocument describes the public HTTP surface. Served as-is by
// GET /openapi.yaml so clients can discover the API without docs hosting.
const openAPIDocument = `openapi: 3.0.3
info:
  title: Lifemaster Health API
  description: Personal health-data aggregation and coaching assistant backend.
  version: "1.0"
paths:
  /health:
    get:
      summary: Liveness check
      responses:
        "200":
          description: Service is up
  /health/daily:
    get:
      summary: Normalized daily health snapshot
      parameters:
        - name: date
          in: query
          required: false
          schema:
            type: string
          description: Target day as YYYY-MM-DD, or "today" (default).
        - name: debug
          in: query
          required: false
          schema:
            type: string
            enum: ["1"]
          description: Include raw provider record counts.
      responses:
        "200":
          description: Snapshot with data points, change detection and optional analysis
        "400":
          description: Invalid date format
        "401":
          description: Not authenticated with the measurement provider
        "502":
          description: Measurement fetch failed
  /openapi.yaml:
    get:
      summary: This document
      responses:
        "200":
          description: OpenAPI description of the service
  /auth/withings:
    get:
      summary: Begin Withings OAuth authorization
      responses:
        "302":
          description: Redirect to the provider consent page
  /auth/withings/callback:
    get:
      summary: OAuth callback, exchanges the code and stores tokens
      parameters:
        - name: code
          in: query
          required: true
          schema:
            type: string
      responses:
        "200":
          description: Tokens stored
        "400":
          description: Missing authorization code
        "500":
          description: Token exchange or persistence failed
  /withings/weight:
    get:
      summary: Last raw weight measurement groups from the provider
      responses:
        "200":
          description: Up to ten most recent weight groups, newest first
        "401":
          description: Not authenticated
        "404":
          description: No weight measurements found
  /agent/state:
    get:
      summary: Recent progress journal entries
      responses:
        "200":
          description: Entry list, newest first
  /agent/event:
    post:
      summary: Record a manual event entry
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [entry_date, title]
              properties:
                entry_date:
                  type: string
                title:
                  type: string
                notes:
                  type: string
                metrics:
                  type: object
      responses:
        "200":
          description: Entry saved
        "400":
          description: Missing required fields
  /agent/commit:
    post:
      summary: Commit a decision entry, requires explicit consent
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [entry_date, title, consent]
              properties:
                entry_date:
                  type: string
                title:
                  type: string
                notes:
                  type: string
                consent:
                  type: object
                  properties:
                    status:
                      type: string
                    scope:
                      type: string
      responses:
        "200":
          description: Decision committed
        "400":
          description: Missing required fields
        "403":
          description: Consent not granted
  /agent/chat:
    post:
      summary: One conversational turn with the coaching agent
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [message]
              properties:
                message:
                  type: string
      responses:
        "200":
          description: Agent reply with tool trace
        "400":
          description: Missing message
        "500":
          description: Reasoning engine not configured or turn failed
`
