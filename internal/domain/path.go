package domain

import "strings"

// PackagePath converts an object path ("/Game/BP_A.BP_A") into its package
// path ("/Game/BP_A"). Package paths are returned unchanged.
func PackagePath(objectPath string) string {
	slash := strings.LastIndex(objectPath, "/")
	if dot := strings.Index(objectPath[slash+1:], "."); dot >= 0 {
		return objectPath[:slash+1+dot]
	}
	return objectPath
}

// ObjectPath returns the canonical object path for a package path
// ("/Game/BP_A" -> "/Game/BP_A.BP_A").
func ObjectPath(packagePath string) string {
	pkg := PackagePath(packagePath)
	return pkg + "." + pkg[strings.LastIndex(pkg, "/")+1:]
}
