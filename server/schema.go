package server

// chatRequestSchema validates the POST /v1/chat body before it is decoded
// into client.ChatRequest. Structural errors are rejected here with a
// validation message naming the offending path; semantic checks (role and
// block-type routing) happen in client.ToMessages.
const chatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["messages"],
  "properties": {
    "threadId": {"type": "string"},
    "model": {"type": "string"},
    "stream": {"type": "boolean"},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant"]},
          "content": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["type"],
              "properties": {
                "type": {"type": "string", "enum": ["text", "image", "file", "audio"]},
                "text": {"type": "string"},
                "filename": {"type": "string"},
                "data": {"type": "string"},
                "mimeType": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`
