// Package types defines common type-safe enums used across the codebase.
package types

// ContextTag names where a piece of text will end up. Text rules are
// selected by it.
type ContextTag string

const (
	ContextHTMLBody      ContextTag = "html_body"
	ContextHTMLAttribute ContextTag = "html_attribute"
	ContextSQLWhere      ContextTag = "sql_where"
	ContextSQLOrderBy    ContextTag = "sql_order_by"
	ContextSQLLimit      ContextTag = "sql_limit"
	ContextGeneric       ContextTag = "generic"
)

// AllContexts returns every known context tag.
func AllContexts() []ContextTag {
	return []ContextTag{
		ContextHTMLBody,
		ContextHTMLAttribute,
		ContextSQLWhere,
		ContextSQLOrderBy,
		ContextSQLLimit,
		ContextGeneric,
	}
}

// Valid returns true if the ContextTag is a known valid value.
func (c ContextTag) Valid() bool {
	switch c {
	case ContextHTMLBody, ContextHTMLAttribute, ContextSQLWhere,
		ContextSQLOrderBy, ContextSQLLimit, ContextGeneric:
		return true
	}
	return false
}

// IsSQL returns true for contexts that end up inside a SQL statement.
func (c ContextTag) IsSQL() bool {
	return c == ContextSQLWhere || c == ContextSQLOrderBy || c == ContextSQLLimit
}

// IsHTML returns true for contexts that end up inside rendered HTML.
func (c ContextTag) IsHTML() bool {
	return c == ContextHTMLBody || c == ContextHTMLAttribute
}

// Category is the kind of upload a caller asked for.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryDocument Category = "document"
	CategoryArchive  Category = "archive"
)

// AllCategories returns every known upload category.
func AllCategories() []Category {
	return []Category{CategoryImage, CategoryDocument, CategoryArchive}
}

// Valid returns true if the Category is a known valid value.
func (c Category) Valid() bool {
	return c == CategoryImage || c == CategoryDocument || c == CategoryArchive
}

// LogLevel is a configured log verbosity.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Valid returns true if the LogLevel is a known valid value. Empty means
// the default and is accepted.
func (l LogLevel) Valid() bool {
	switch l {
	case "", LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}
