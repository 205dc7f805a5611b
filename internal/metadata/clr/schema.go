package clr

// Physical layout of the ECMA-335 metadata tables (Partition II, section 22).
// Column widths depend on row counts and heap sizes, so the schema only
// records column kinds and the layout is computed per image.

type tableID uint8

const (
	tModule                 tableID = 0x00
	tTypeRef                tableID = 0x01
	tTypeDef                tableID = 0x02
	tFieldPtr               tableID = 0x03
	tField                  tableID = 0x04
	tMethodPtr              tableID = 0x05
	tMethodDef              tableID = 0x06
	tParamPtr               tableID = 0x07
	tParam                  tableID = 0x08
	tInterfaceImpl          tableID = 0x09
	tMemberRef              tableID = 0x0A
	tConstant               tableID = 0x0B
	tCustomAttribute        tableID = 0x0C
	tFieldMarshal           tableID = 0x0D
	tDeclSecurity           tableID = 0x0E
	tClassLayout            tableID = 0x0F
	tFieldLayout            tableID = 0x10
	tStandAloneSig          tableID = 0x11
	tEventMap               tableID = 0x12
	tEventPtr               tableID = 0x13
	tEvent                  tableID = 0x14
	tPropertyMap            tableID = 0x15
	tPropertyPtr            tableID = 0x16
	tProperty               tableID = 0x17
	tMethodSemantics        tableID = 0x18
	tMethodImpl             tableID = 0x19
	tModuleRef              tableID = 0x1A
	tTypeSpec               tableID = 0x1B
	tImplMap                tableID = 0x1C
	tFieldRVA               tableID = 0x1D
	tEncLog                 tableID = 0x1E
	tEncMap                 tableID = 0x1F
	tAssembly               tableID = 0x20
	tAssemblyProcessor      tableID = 0x21
	tAssemblyOS             tableID = 0x22
	tAssemblyRef            tableID = 0x23
	tAssemblyRefProcessor   tableID = 0x24
	tAssemblyRefOS          tableID = 0x25
	tFile                   tableID = 0x26
	tExportedType           tableID = 0x27
	tManifestResource       tableID = 0x28
	tNestedClass            tableID = 0x29
	tGenericParam           tableID = 0x2A
	tMethodSpec             tableID = 0x2B
	tGenericParamConstraint tableID = 0x2C

	numTables = 0x2D

	// marks unused tags in a coded index
	noTable tableID = 0xFF
)

type colKind uint8

const (
	colU16 colKind = iota
	colU32
	colString
	colGUID
	colBlob
	colTable
	colCoded
)

type column struct {
	kind  colKind
	table tableID
	coded *codedIndex
}

type codedIndex struct {
	bits   uint
	tables []tableID
}

// decode splits a coded index into its table and 1-based row
func (c *codedIndex) decode(v uint32) (tableID, uint32) {
	tag := v & (1<<c.bits - 1)
	if int(tag) >= len(c.tables) {
		return noTable, 0
	}
	return c.tables[tag], v >> c.bits
}

var (
	typeDefOrRef = &codedIndex{2, []tableID{tTypeDef, tTypeRef, tTypeSpec}}
	hasConstant  = &codedIndex{2, []tableID{tField, tParam, tProperty}}

	hasCustomAttribute = &codedIndex{5, []tableID{
		tMethodDef, tField, tTypeRef, tTypeDef, tParam, tInterfaceImpl, tMemberRef,
		tModule, tDeclSecurity, tProperty, tEvent, tStandAloneSig, tModuleRef,
		tTypeSpec, tAssembly, tAssemblyRef, tFile, tExportedType, tManifestResource,
		tGenericParam, tGenericParamConstraint, tMethodSpec,
	}}

	hasFieldMarshal     = &codedIndex{1, []tableID{tField, tParam}}
	hasDeclSecurity     = &codedIndex{2, []tableID{tTypeDef, tMethodDef, tAssembly}}
	memberRefParent     = &codedIndex{3, []tableID{tTypeDef, tTypeRef, tModuleRef, tMethodDef, tTypeSpec}}
	hasSemantics        = &codedIndex{1, []tableID{tEvent, tProperty}}
	methodDefOrRef      = &codedIndex{1, []tableID{tMethodDef, tMemberRef}}
	memberForwarded     = &codedIndex{1, []tableID{tField, tMethodDef}}
	implementation      = &codedIndex{2, []tableID{tFile, tAssemblyRef, tExportedType}}
	customAttributeType = &codedIndex{3, []tableID{noTable, noTable, tMethodDef, tMemberRef, noTable}}
	resolutionScope     = &codedIndex{2, []tableID{tModule, tModuleRef, tAssemblyRef, tTypeRef}}
	typeOrMethodDef     = &codedIndex{1, []tableID{tTypeDef, tMethodDef}}
)

func u16() column { return column{kind: colU16} }
func u32() column { return column{kind: colU32} }
func str() column { return column{kind: colString} }
func guid() column { return column{kind: colGUID} }
func blob() column { return column{kind: colBlob} }
func idx(t tableID) column { return column{kind: colTable, table: t} }
func coded(c *codedIndex) column { return column{kind: colCoded, coded: c} }

var schema = [numTables][]column{
	tModule:                 {u16(), str(), guid(), guid(), guid()},
	tTypeRef:                {coded(resolutionScope), str(), str()},
	tTypeDef:                {u32(), str(), str(), coded(typeDefOrRef), idx(tField), idx(tMethodDef)},
	tFieldPtr:               {idx(tField)},
	tField:                  {u16(), str(), blob()},
	tMethodPtr:              {idx(tMethodDef)},
	tMethodDef:              {u32(), u16(), u16(), str(), blob(), idx(tParam)},
	tParamPtr:               {idx(tParam)},
	tParam:                  {u16(), u16(), str()},
	tInterfaceImpl:          {idx(tTypeDef), coded(typeDefOrRef)},
	tMemberRef:              {coded(memberRefParent), str(), blob()},
	tConstant:               {u16(), coded(hasConstant), blob()},
	tCustomAttribute:        {coded(hasCustomAttribute), coded(customAttributeType), blob()},
	tFieldMarshal:           {coded(hasFieldMarshal), blob()},
	tDeclSecurity:           {u16(), coded(hasDeclSecurity), blob()},
	tClassLayout:            {u16(), u32(), idx(tTypeDef)},
	tFieldLayout:            {u32(), idx(tField)},
	tStandAloneSig:          {blob()},
	tEventMap:               {idx(tTypeDef), idx(tEvent)},
	tEventPtr:               {idx(tEvent)},
	tEvent:                  {u16(), str(), coded(typeDefOrRef)},
	tPropertyMap:            {idx(tTypeDef), idx(tProperty)},
	tPropertyPtr:            {idx(tProperty)},
	tProperty:               {u16(), str(), blob()},
	tMethodSemantics:        {u16(), idx(tMethodDef), coded(hasSemantics)},
	tMethodImpl:             {idx(tTypeDef), coded(methodDefOrRef), coded(methodDefOrRef)},
	tModuleRef:              {str()},
	tTypeSpec:               {blob()},
	tImplMap:                {u16(), coded(memberForwarded), str(), idx(tModuleRef)},
	tFieldRVA:               {u32(), idx(tField)},
	tEncLog:                 {u32(), u32()},
	tEncMap:                 {u32()},
	tAssembly:               {u32(), u16(), u16(), u16(), u16(), u32(), blob(), str(), str()},
	tAssemblyProcessor:      {u32()},
	tAssemblyOS:             {u32(), u32(), u32()},
	tAssemblyRef:            {u16(), u16(), u16(), u16(), u32(), blob(), str(), str(), blob()},
	tAssemblyRefProcessor:   {u32(), idx(tAssemblyRef)},
	tAssemblyRefOS:          {u32(), u32(), u32(), idx(tAssemblyRef)},
	tFile:                   {u32(), str(), blob()},
	tExportedType:           {u32(), u32(), str(), str(), coded(implementation)},
	tManifestResource:       {u32(), u32(), str(), coded(implementation)},
	tNestedClass:            {idx(tTypeDef), idx(tTypeDef)},
	tGenericParam:           {u16(), u16(), coded(typeOrMethodDef), str()},
	tMethodSpec:             {coded(methodDefOrRef), blob()},
	tGenericParamConstraint: {idx(tGenericParam), coded(typeDefOrRef)},
}

// Column positions used by the reader
const (
	typeRefName      = 1
	typeRefNamespace = 2

	typeDefFlags      = 0
	typeDefName       = 1
	typeDefNamespace  = 2
	typeDefMethodList = 5

	methodDefFlags     = 2
	methodDefName      = 3
	methodDefSignature = 4

	memberRefClass = 0
	memberRefName  = 1

	caParent = 0
	caType   = 1

	typeSpecSignature = 0

	assemblyName = 7

	exportedTypeFlags          = 0
	exportedTypeName           = 2
	exportedTypeNamespace      = 3
	exportedTypeImplementation = 4

	genericParamNumber = 0
	genericParamOwner  = 2
	genericParamName   = 3
)

// Attribute flags (Partition II, section 23.1)
const (
	typeVisibilityMask = 0x00000007
	typePublic         = 0x00000001
	typeAbstract       = 0x00000080
	typeSealed         = 0x00000100

	methodAccessMask = 0x0007
	methodPublic     = 0x0006
	methodStatic     = 0x0010
)

// heapSizes bits in the #~ stream header
const (
	heapStringsWide = 0x01
	heapGUIDWide    = 0x02
	heapBlobWide    = 0x04
	heapExtraData   = 0x40
)
