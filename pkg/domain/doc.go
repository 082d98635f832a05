// Package domain defines the core types shared by the protect/reveal orchestration layer:
// session settings, gateway request payloads, operation results, session log entries and
// the error taxonomy.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Other packages (validation, request, gateway, orchestrator)
// depend on these types; the dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
