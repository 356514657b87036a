package outbox

const leadTasksChangedSchema = `{
  "type": "object",
  "title": "LeadTasksChanged",
  "properties": {
    "tenant_id": {"type": "string"},
    "lead_id": {"type": "string"},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["tenant_id", "lead_id", "occurred_at"],
  "additionalProperties": false
}`

const taskCreatedSchema = `{
  "type": "object",
  "title": "CadenceTaskCreated",
  "properties": {
    "task_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "lead_id": {"type": "string"},
    "pipeline_id": {"type": "string"},
    "stage_name": {"type": "string"},
    "task_order": {"type": "integer"},
    "channel": {"type": "string", "enum": ["message", "call", "action"]},
    "assignee_id": {"type": "string"},
    "scheduled_at": {"type": "string", "format": "date-time"},
    "created_at": {"type": "string", "format": "date-time"}
  },
  "required": ["task_id", "tenant_id", "lead_id", "pipeline_id", "stage_name", "task_order", "channel", "scheduled_at", "created_at"],
  "additionalProperties": false
}`
