package roomhandler

type ErrorResponse struct {
	Error string `json:"error"`
} // @name ErrorResponse

type ListRoomsQuery struct {
	Limit  int `form:"limit,default=20" binding:"gte=0,lte=100"`
	Offset int `form:"offset,default=0" binding:"gte=0"`
} // @name ListRoomsQuery

type ListRoomsResponse struct {
	Rooms  []RoomView `json:"rooms"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
} // @name ListRoomsResponse

type RoomView struct {
	ID         string `json:"room_id"     example:"K7M-2QX"`
	MasterID   string `json:"master_id"   example:"4b1c0e4e-7c55-4c0e-9d61-1b1c7d1ad9a2"`
	CreatedAt  string `json:"created_at"  example:"2026-03-01T12:00:00Z"`
	Clients    int    `json:"clients"     example:"3"`
	Peak       int    `json:"peak_clients" example:"5"`
	AgeSeconds int64  `json:"age_seconds" example:"42"`
} // @name Room
