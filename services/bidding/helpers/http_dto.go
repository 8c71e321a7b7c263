package helpers

import "time"

// Request DTOs
type PlaceBidRequest struct {
	Amount float64 `json:"amount" binding:"required,gt=0"`
}

type CreateAuctionRequest struct {
	CropName    string    `json:"cropName" binding:"required,min=2"`
	Variety     string    `json:"variety" binding:"required,min=2"`
	Weight      float64   `json:"weight" binding:"required,gte=1"`
	Location    string    `json:"location" binding:"required,min=2"`
	Description string    `json:"description"`
	BasePrice   float64   `json:"basePrice" binding:"required,gte=1"`
	Deadline    time.Time `json:"deadline" binding:"required"`
}
