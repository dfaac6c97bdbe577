package metadata

// Document keys.
const (
	TagProperties = "Properties"
	TagUberGraphs = "UberGraphs"
	TagFunctions  = "Functions"
	TagMacros     = "Macros"
	TagSubGraphs  = "SubGraphs"
	TagNodes      = "Nodes"
	TagPins       = "Pins"

	TagName         = "Name"
	TagClassName    = "ClassName"
	TagNodeGUID     = "NodeGuid"
	TagTooltip      = "Tooltip"
	TagDefaultValue = "DefaultValue"
	TagDescription  = "Description"
	TagComment      = "Comment"

	TagPinCategory    = "PinCategory"
	TagPinSubCategory = "SubCategory"
	TagObjectClass    = "ObjectClass"
	TagIsArray        = "IsArray"
	TagIsReference    = "IsReference"
	TagGlyph          = "Glyph"
	TagGlyphColor     = "GlyphColor"
	TagSchemaName     = "SchemaName"
)
