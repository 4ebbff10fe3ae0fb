package models

// Remote collections.
const (
	CollectionLocations = "locations"
	CollectionMeters    = "meters"
	CollectionReadings  = "readings"
)

// Reading document fields.
const (
	FieldMeterID       = "meterId"
	FieldUserID        = "userId"
	FieldFinalValue    = "finalValue"
	FieldPhotoURL      = "photoUrl"
	FieldTimestamp     = "timestamp"
	FieldEditedByAdmin = "editedByAdmin"
)

// Meter document fields.
const (
	FieldLocationID = "locationId"
)
