package domain

// AssetData describes a blueprint known to the asset registry.
type AssetData struct {
	// Path is the package path.
	Path string
	// SearchGUID is the search identity recorded in the asset header, if any.
	SearchGUID string
	// Asset is set when the blueprint is already loaded.
	Asset *Blueprint
}

// AssetListener receives asset registry change notifications.
type AssetListener interface {
	OnAssetAdded(data AssetData)
	OnAssetRemoved(path string)
	OnAssetRenamed(oldPath, newPath string)
	OnAssetLoaded(bp *Blueprint)
}
