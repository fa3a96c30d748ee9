// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all gate routes with the router.
//
// Description:
//
//	Registers all /v1/gate/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/gate/check - Check a pipeline document
//	GET  /v1/gate/rules - List registered rules
//	GET  /v1/gate/runs - List past check runs
//	GET  /v1/gate/runs/:id - Get one check run by id or prefix
//	GET  /v1/gate/watch - WebSocket: stream documents, receive reports
//	GET  /v1/gate/health - Health check
//
// Example:
//
//	handlers := api.NewHandlers(eng, reg, o).WithHistory(store)
//
//	v1 := router.Group("/v1")
//	api.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	gate := rg.Group("/gate")
	{
		gate.POST("/check", handlers.HandleCheck)

		gate.GET("/rules", handlers.HandleRules)

		gate.GET("/runs", handlers.HandleListRuns)
		gate.GET("/runs/:id", handlers.HandleGetRun)

		gate.GET("/watch", handlers.HandleWatchWebSocket)

		gate.GET("/health", handlers.HandleHealth)
	}
}
