package models

// Crop is an entry of GET /api/crops.
type Crop struct {
	Name string `json:"name"`
}

// SowingAndHarvesting is one candidate sowing/harvest window with its estimated yield.
type SowingAndHarvesting struct {
	SowingYear              int     `json:"sowingYear"`
	SowingMonth             int     `json:"sowingMonth"`
	HarvestYear             int     `json:"harvestYear"`
	HarvestMonth            int     `json:"harvestMonth"`
	EstimatedYieldPerHectar float64 `json:"estimatedYieldPerHectar"`
	Duration                int     `json:"duration"`
}

// ClimateData is one month of forecast climate variables.
type ClimateData struct {
	LocationID                       string  `json:"locationId,omitempty"`
	Year                             int     `json:"year"`
	Month                            int     `json:"month"`
	Temperature2m                    float64 `json:"temperature2m"`
	TotalPrecipitation               float64 `json:"totalPrecipitation"`
	SurfaceSolarRadiationDownwards   float64 `json:"surfaceSolarRadiationDownwards"`
	SurfaceThermalRadiationDownwards float64 `json:"surfaceThermalRadiationDownwards"`
	SurfaceNetSolarRadiation         float64 `json:"surfaceNetSolarRadiation"`
	SurfaceNetThermalRadiation       float64 `json:"surfaceNetThermalRadiation"`
	TotalCloudCover                  float64 `json:"totalCloudCover"`
	DewpointTemperature2m            float64 `json:"dewpointTemperature2m"`
	SoilTemperatureLevel3            float64 `json:"soilTemperatureLevel3"`
	VolumetricSoilWaterLayer3        float64 `json:"volumetricSoilWaterLayer3"`
}

// Predictions is the opaque result of GET /api/predictions. It is decoded and
// displayed, never computed on.
type Predictions struct {
	BestCombinations []SowingAndHarvesting `json:"bestCombinations"`
	Forecast         []ClimateData         `json:"forecast"`
}
