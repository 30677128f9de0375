package models

const (
	AlertTypeSuspiciousActivity = "Suspicious activity"
	AlertTypePotentialWeapon    = "Potential weapon"
	AlertTypeOvercrowding       = "Overcrowding"
	AlertTypeMedicalEmergency   = "Medical emergency"
	AlertTypeFight              = "Fight"

	AlertCategorySecurity = "security"
	AlertCategoryMedical  = "medical"
	AlertCategoryCrowd    = "crowd"
	AlertCategoryFacility = "facility"
	AlertCategoryWeather  = "weather"

	AlertSourceSimulated = "simulated"
	AlertSourceManual    = "manual"
	AlertSourceIncoming  = "incoming"
	AlertSourceDetection = "detection"
	AlertSourceEmergency = "emergency"

	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	ThreatKnife              = "knife"
	ThreatGun                = "gun"
	ThreatSharpObject        = "sharp object"
	ThreatSuspiciousBehavior = "suspicious behavior"

	DetectionModeUpload  = "upload"
	DetectionModeCapture = "capture"

	RoleAdmin    = "admin"
	RoleSecurity = "security"

	DutyAvailable = "available"
	DutyBusy      = "busy"
	DutyOff       = "off"

	TopicDensitySamples        = "density_samples"
	TopicAlertEvents           = "alert_events"
	TopicDetectionResults      = "detection_results"
	TopicAlertAcknowledgements = "alert_acknowledgements"
)

// AlertTypes is the fixed enumeration simulated alerts draw from.
var AlertTypes = []string{
	AlertTypeSuspiciousActivity,
	AlertTypePotentialWeapon,
	AlertTypeOvercrowding,
	AlertTypeMedicalEmergency,
	AlertTypeFight,
}

var ThreatTypes = []string{
	ThreatKnife,
	ThreatGun,
	ThreatSharpObject,
	ThreatSuspiciousBehavior,
}

// IncomingAlertMessages are pushed to security staff by the one-shot incoming alert.
var IncomingAlertMessages = []string{
	"Suspicious activity detected",
	"High crowd density warning",
	"Potential threat identified",
}
