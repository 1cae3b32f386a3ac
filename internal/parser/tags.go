package parser

import (
	"strings"

	"github.com/dshills/gocontext-ingest/pkg/types"
)

// Naming-convention tags attached to type symbols
const (
	TagAggregateRoot = "aggregate_root"
	TagEntity        = "entity"
	TagValueObject   = "value_object"
	TagRepository    = "repository"
	TagService       = "service"
	TagCommand       = "command"
	TagQuery         = "query"
	TagHandler       = "handler"
)

var entityIndicators = []string{"Order", "User", "Product", "Account", "Customer", "Item"}

// classifyTags identifies domain-driven design patterns based on naming conventions.
// Only types, interfaces, structs and classes are tagged.
func classifyTags(sym *types.Symbol) []string {
	switch sym.Kind {
	case types.KindStruct, types.KindInterface, types.KindType, types.KindClass:
	default:
		return nil
	}

	name := sym.Name
	var tags []string
	add := func(tag string) { tags = append(tags, tag) }

	entity := false
	if hasAnySuffix(name, "Aggregate", "AggregateRoot") {
		add(TagAggregateRoot)
		entity = true // Aggregates are also entities
	}
	if !entity && strings.HasSuffix(name, "Entity") {
		entity = true
	}
	if !entity && !hasAnySuffix(name, "Service", "Repository", "Handler") {
		for _, indicator := range entityIndicators {
			if strings.Contains(name, indicator) {
				entity = true
				break
			}
		}
	}
	if entity {
		add(TagEntity)
	}

	if hasAnySuffix(name, "VO", "ValueObject") {
		add(TagValueObject)
	}
	if hasAnySuffix(name, "Repository", "Repo") {
		add(TagRepository)
	}
	if strings.HasSuffix(name, "Service") {
		add(TagService)
	}
	if hasAnySuffix(name, "Command", "Cmd") {
		add(TagCommand)
	}
	if strings.HasSuffix(name, "Query") {
		add(TagQuery)
	}
	if strings.HasSuffix(name, "Handler") {
		add(TagHandler)
	}
	return tags
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
