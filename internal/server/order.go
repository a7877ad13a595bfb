package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/orderhub/internal/order/domain"
	"github.com/smallbiznis/orderhub/pkg/db/pagination"
)

type placeOrderRequest struct {
	CustomerID string `json:"customer_id"`
	Items      []struct {
		ProductID string `json:"product_id"`
		Quantity  int64  `json:"quantity"`
	} `json:"items"`
}

func (s *Server) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	items := make([]orderdomain.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := parseID(item.ProductID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		items = append(items, orderdomain.ItemRequest{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}

	resp, err := s.orderSvc.Place(c.Request.Context(), orderdomain.PlaceOrderInput{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Items:      items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	s.orderByID(c, s.orderSvc.Get)
}

func (s *Server) PayOrder(c *gin.Context) {
	s.orderByID(c, s.orderSvc.Pay)
}

func (s *Server) CancelOrder(c *gin.Context) {
	s.orderByID(c, s.orderSvc.Cancel)
}

func (s *Server) orderByID(c *gin.Context, op func(ctx context.Context, id snowflake.ID) (*orderdomain.Order, error)) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := op(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrderHistory(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.orderSvc.History(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
