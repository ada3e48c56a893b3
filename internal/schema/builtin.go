package schema

var builtinScalars = []string{"String", "Int", "Float", "Boolean", "ID"}

func addBuiltins(s *Schema) {
	for _, name := range builtinScalars {
		if _, ok := s.Types[name]; !ok {
			s.Types[name] = &Type{Name: name, Kind: TypeKindScalar}
		}
	}
}
