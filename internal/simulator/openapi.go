package simulator

// openAPIDocument повторяет форму openapi.json, который отдает FastAPI.
const openAPIDocument = `{
  "openapi": "3.0.2",
  "info": {"title": "Middleware", "version": "0.1.0"},
  "paths": {
    "/system/status": {
      "get": {"summary": "System Status", "operationId": "system_status", "parameters": []}
    },
    "/stage/relative": {
      "post": {
        "summary": "Stage Relative",
        "operationId": "stage_relative",
        "parameters": [
          {"required": true, "schema": {"title": "N", "type": "integer"}, "name": "n", "in": "query"},
          {"required": false, "schema": {"allOf": [{"$ref": "#/components/schemas/StageStepSize"}], "default": "QUARTER"}, "name": "size", "in": "query"},
          {"required": false, "schema": {"title": "Ignore Limits", "type": "boolean", "default": false}, "name": "ignore_limits", "in": "query"}
        ]
      }
    },
    "/stage/absolute": {
      "post": {
        "summary": "Stage Absolute",
        "operationId": "stage_absolute",
        "parameters": [
          {"required": true, "schema": {"title": "N", "type": "integer"}, "name": "n", "in": "query"},
          {"required": false, "schema": {"$ref": "#/components/schemas/StageStepSize"}, "name": "size", "in": "query"}
        ]
      }
    },
    "/stage/speed": {
      "post": {
        "summary": "Stage Speed",
        "operationId": "stage_speed",
        "parameters": [
          {"required": true, "schema": {"title": "Hz", "type": "integer"}, "name": "hz", "in": "query"}
        ]
      }
    },
    "/stage/led_pwm": {
      "post": {
        "summary": "Ring Light PWM",
        "operationId": "stage_led_pwm",
        "parameters": [
          {"required": true, "schema": {"title": "Pwm", "type": "number"}, "name": "pwm", "in": "query", "description": "Duty cycle 0..1"}
        ]
      }
    },
    "/system/single_card": {
      "post": {
        "summary": "Single Card",
        "operationId": "single_card",
        "parameters": [
          {"required": false, "schema": {"title": "Encoding", "enum": ["jpeg", "png", "tiff", "raw"], "type": "string", "default": "tiff"}, "name": "encoding", "in": "query"},
          {"required": false, "schema": {"title": "Delay", "type": "number", "default": 0.2}, "name": "delay", "in": "query"},
          {"required": false, "schema": {"title": "Speed", "type": "integer", "default": 1500}, "name": "speed", "in": "query"},
          {"required": false, "schema": {"title": "Images", "type": "integer", "default": 3}, "name": "images", "in": "query"},
          {"required": false, "schema": {"title": "Path", "anyOf": [{"type": "string"}, {"type": "null"}]}, "name": "path", "in": "query"}
        ]
      }
    },
    "/system/debug_align": {
      "post": {
        "summary": "Debug Align",
        "operationId": "debug_align",
        "parameters": [
          {"required": false, "schema": {"title": "Coarse N", "type": "integer", "default": 400}, "name": "coarse_n", "in": "query"},
          {"required": false, "schema": {"allOf": [{"$ref": "#/components/schemas/StageStepSize"}], "default": "QUARTER"}, "name": "coarse_size", "in": "query"},
          {"required": false, "schema": {"title": "Step Delay", "type": "number", "default": 0.1}, "name": "step_delay", "in": "query"},
          {"required": false, "schema": {"title": "Debug", "type": "boolean", "default": false}, "name": "debug", "in": "query"}
        ]
      }
    },
    "/linux/mounts": {
      "post": {
        "summary": "Mounts",
        "operationId": "linux_mounts",
        "parameters": [
          {"required": false, "schema": {"title": "Mount Point Filter", "type": "string", "default": "/"}, "name": "mount_point_filter", "in": "query"},
          {"required": false, "schema": {"title": "Fs Type Filter", "type": "string", "default": ""}, "name": "fs_type_filter", "in": "query"}
        ]
      }
    },
    "/cam/acquire/{cam_name}": {
      "get": {
        "summary": "Cam Acquire",
        "operationId": "cam_acquire",
        "parameters": [
          {"required": true, "schema": {"title": "Cam Name", "enum": ["hq", "aux"], "type": "string"}, "name": "cam_name", "in": "path"}
        ]
      }
    }
  },
  "components": {
    "schemas": {
      "StageStepSize": {
        "title": "StageStepSize",
        "enum": ["FULL", "HALF", "QUARTER", "EIGHTH"],
        "type": "string",
        "description": "An enumeration."
      }
    }
  }
}`
