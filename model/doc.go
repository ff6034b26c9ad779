// Package model defines the provider-agnostic abstractions for interacting
// with language models inside MedMesh.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so agents and the runner remain decoupled from vendor SDKs.
package model
