package store

import "github.com/symbio-data/engine-cli/internal/model"

// seedMaterials is the curated canonical material registry applied on
// migration. The resolver never adds to it: new types enter through
// curation only.
var seedMaterials = []model.MaterialType{
	{ID: "CU-BAREBRGHT", Name: "copper bare bright", Category: "metals"},
	{ID: "CU-WIRE1", Name: "copper wire 1", Category: "metals"},
	{ID: "CU-WIRE2", Name: "copper wire 2", Category: "metals"},
	{ID: "AL-6063", Name: "aluminum 6063", Category: "metals"},
	{ID: "AL-UBC", Name: "aluminum ubc", Category: "metals"},
	{ID: "BR-YELLOW", Name: "brass yellow", Category: "metals"},
	{ID: "ST-HMS1", Name: "steel hms 1", Category: "metals"},
	{ID: "ST-SHREDDED", Name: "steel shredded", Category: "metals"},
	{ID: "PB-BATTERIES", Name: "lead batteries", Category: "metals"},
	{ID: "NI-ALLOY", Name: "nickel alloy", Category: "metals"},
	{ID: "ZN-SCRAP", Name: "zinc scrap", Category: "metals"},
	{ID: "PLASTICS", Name: "mixed plastic", Category: "plastics"},
	{ID: "PET-CLEAR", Name: "pet clear bale", Category: "plastics"},
	{ID: "HDPE-NAT", Name: "hdpe natural", Category: "plastics"},
	{ID: "PAPER-OCC", Name: "old corrugated cardboard", Category: "paper"},
	{ID: "GLASS-MIX", Name: "mixed glass cullet", Category: "glass"},
	{ID: "ORGANICS", Name: "organic waste", Category: "organics"},
	{ID: "CONSTRUCTION", Name: "construction debris", Category: "construction"},
	{ID: "ELECTRONICS", Name: "electronic scrap", Category: "electronics"},
	{ID: "TEXTILES", Name: "textile waste", Category: "textiles"},
	{ID: "RUBBER", Name: "rubber scrap", Category: "rubber"},
	{ID: "SOLVENTS", Name: "spent solvent", Category: "chemicals"},
	{ID: "ACIDS", Name: "spent acid", Category: "chemicals"},
	{ID: "SLUDGE", Name: "industrial sludge", Category: "mixed"},
	{ID: "ASH", Name: "incinerator ash", Category: "mixed"},
	{ID: "MIXED-WASTE", Name: "mixed industrial waste", Category: "mixed"},
}
