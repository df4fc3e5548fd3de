package ws

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vietquant/vnpulse/internal/market"
)

// RegisterRoutes mounts the four channel sockets on the router.
func RegisterRoutes(r *mux.Router, hub *Hub) {
	for _, channel := range []string{
		market.ChannelMarket,
		market.ChannelForeign,
		market.ChannelIndex,
		market.ChannelAlerts,
	} {
		ch := channel
		r.HandleFunc("/ws/"+ch, func(w http.ResponseWriter, req *http.Request) {
			hub.ServeWS(ch, w, req)
		})
	}
}
